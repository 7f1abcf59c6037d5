package gormstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Account represents the accounts table: one versioned balance per
// (owner, token) pair.
type Account struct {
	AccountID string    `gorm:"type:uuid;primaryKey"`
	OwnerID   string    `gorm:"not null;index:idx_accounts_owner_token,unique,priority:1"`
	Token     string    `gorm:"not null;index:idx_accounts_owner_token,unique,priority:2"`
	Amount    int64     `gorm:"not null"`
	Version   int64     `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (Account) TableName() string { return "accounts" }

func (account *Account) BeforeCreate(tx *gorm.DB) error {
	if account.AccountID == "" {
		account.AccountID = uuid.NewString()
	}
	return nil
}

// Transfer mirrors the transfers table: the append-only money movement log
// with before/after balance snapshots of both sides.
type Transfer struct {
	TransferID       string    `gorm:"type:uuid;primaryKey"`
	FromOwnerID      string    `gorm:"not null;index"`
	ToOwnerID        string    `gorm:"not null;index"`
	Token            string    `gorm:"not null"`
	Amount           int64     `gorm:"not null"`
	FromBeforeAmount int64     `gorm:"not null"`
	FromAfterAmount  int64     `gorm:"not null"`
	ToBeforeAmount   int64     `gorm:"not null"`
	ToAfterAmount    int64     `gorm:"not null"`
	Kind             string    `gorm:"not null"`
	Remark           string    `gorm:""`
	IsHandled        bool      `gorm:"not null;index:idx_transfers_handled_created,priority:1"`
	CreatedAt        time.Time `gorm:"not null;index:idx_transfers_handled_created,priority:2"`
}

func (Transfer) TableName() string { return "transfers" }

func (transfer *Transfer) BeforeCreate(tx *gorm.DB) error {
	if transfer.TransferID == "" {
		transfer.TransferID = uuid.NewString()
	}
	return nil
}

// Room mirrors the rooms table. The seated player list is small and always
// read whole, so it lives in a JSON column instead of a join table.
type Room struct {
	RoomID    string         `gorm:"type:uuid;primaryKey"`
	Level     int            `gorm:"not null;index:idx_rooms_level_status,priority:1"`
	Status    string         `gorm:"not null;index:idx_rooms_level_status,priority:2"`
	Players   datatypes.JSON `gorm:"not null"`
	CreatedAt time.Time      `gorm:"not null"`
	UpdatedAt time.Time      `gorm:"not null"`
}

func (Room) TableName() string { return "rooms" }

func (room *Room) BeforeCreate(tx *gorm.DB) error {
	if room.RoomID == "" {
		room.RoomID = uuid.NewString()
	}
	return nil
}
