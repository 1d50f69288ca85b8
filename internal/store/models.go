package store

import (
	"strings"
	"time"
)

// Drug is a knowledge-base drug node.
type Drug struct {
	DrugID     string `gorm:"primaryKey;size:32"`
	Name       string `gorm:"size:256;index"`
	Type       string `gorm:"size:64"`
	DrugClass  string `gorm:"size:256;index"`
	Indication string `gorm:"type:text"`
	// Position preserves import order so enumeration stays stable.
	Position  int `gorm:"index"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Interaction is a known interaction edge between two drugs.
type Interaction struct {
	ID          uint      `gorm:"primaryKey"`
	Drug1ID     string    `gorm:"size:32;index"`
	Drug2ID     string    `gorm:"size:32;index"`
	Severity    string    `gorm:"size:64"`
	Description string    `gorm:"type:text"`
	Source      string    `gorm:"size:128"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
}

// PairKey returns the order-independent identity of the interaction.
func (i Interaction) PairKey() string {
	a := strings.TrimSpace(i.Drug1ID)
	b := strings.TrimSpace(i.Drug2ID)
	if b < a {
		a, b = b, a
	}
	return a + "|" + b
}
