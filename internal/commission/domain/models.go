package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// PolicyOwnerType orders resolution: user first, then the user's outlet,
// then the parent banca. The first owner with an active policy wins at the
// document level.
type PolicyOwnerType string

const (
	PolicyOwnerUser   PolicyOwnerType = "user"
	PolicyOwnerOutlet PolicyOwnerType = "outlet"
	PolicyOwnerBanca  PolicyOwnerType = "banca"
)

func ValidPolicyOwnerType(t PolicyOwnerType) bool {
	switch t {
	case PolicyOwnerUser, PolicyOwnerOutlet, PolicyOwnerBanca:
		return true
	}
	return false
}

type CommissionPolicy struct {
	ID        snowflake.ID    `gorm:"primaryKey" json:"id"`
	OwnerType PolicyOwnerType `gorm:"type:varchar(16);index:idx_commission_policies_owner,priority:1" json:"owner_type"`
	OwnerID   int64           `gorm:"index:idx_commission_policies_owner,priority:2" json:"owner_id"`
	Document  datatypes.JSON  `gorm:"type:jsonb" json:"document"`
	Active    bool            `gorm:"default:true" json:"active"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (CommissionPolicy) TableName() string {
	return "commission_policies"
}
