package main

import (
	"flag"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"regimen-risk/backend/internal/store"
)

func main() {
	var (
		dbPath           = flag.String("db", filepath.FromSlash("data/regimen-risk.db"), "Path to SQLite database")
		drugsPath        = flag.String("drugs", filepath.FromSlash("data/kg_drugs.csv"), "Drug table CSV")
		interactionsPath = flag.String("interactions", "", "Interaction table CSV (optional)")
	)
	flag.Parse()

	if err := os.MkdirAll(filepath.Dir(*dbPath), 0o755); err != nil {
		logrus.Fatalf("create data directory: %v", err)
	}
	db, err := store.Open(*dbPath, true)
	if err != nil {
		logrus.Fatalf("open database: %v", err)
	}
	defer func() {
		if cerr := db.Close(); cerr != nil {
			logrus.WithError(cerr).Warn("close database")
		}
	}()

	start := time.Now()
	if err := importDrugs(db, *drugsPath); err != nil {
		logrus.Fatalf("import drugs: %v", err)
	}
	if *interactionsPath != "" {
		if err := importInteractions(db, *interactionsPath); err != nil {
			logrus.Fatalf("import interactions: %v", err)
		}
	}

	fields := summaryFields(db)
	fields["duration"] = time.Since(start)
	logrus.WithFields(fields).Info("knowledge base import complete")
}

// summaryFields reports table counts, omitting any count that cannot be read.
func summaryFields(db *store.Database) logrus.Fields {
	fields := logrus.Fields{}
	if drugs, err := db.CountDrugs(); err != nil {
		logrus.WithError(err).Warn("count drugs")
	} else {
		fields["drugs"] = drugs
	}
	if interactions, err := db.CountInteractions(); err != nil {
		logrus.WithError(err).Warn("count interactions")
	} else {
		fields["interactions"] = interactions
	}
	return fields
}

func importDrugs(db *store.Database, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	offset, err := db.MaxDrugPosition()
	if err != nil {
		return err
	}
	drugs, skipped, err := parseDrugs(f, offset)
	if err != nil {
		return err
	}
	if err := db.UpsertDrugs(drugs); err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{
		"path":     path,
		"imported": len(drugs),
		"skipped":  skipped,
	}).Info("drugs imported")
	return nil
}

func importInteractions(db *store.Database, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	rows, skipped, err := parseInteractions(f)
	if err != nil {
		return err
	}
	if err := db.ReplaceInteractions(rows); err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{
		"path":     path,
		"imported": len(rows),
		"skipped":  skipped,
	}).Info("interactions imported")
	return nil
}
