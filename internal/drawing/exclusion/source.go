package exclusion

import (
	"context"

	"github.com/bwmarrin/snowflake"
	drawingdomain "github.com/tiemposla/bancaledger/internal/drawing/domain"
	"gorm.io/gorm"
)

// Source resolves the excluded ticket set for a drawing from active
// exclusion listings: direct ticket listings plus every ticket sold by a
// listed seller or outlet.
type Source struct {
	db *gorm.DB
}

func NewSource(db *gorm.DB) drawingdomain.ExclusionSource {
	return &Source{db: db}
}

func (s *Source) ExcludedTicketIDs(ctx context.Context, drawingID snowflake.ID) ([]snowflake.ID, error) {
	var listings []drawingdomain.ExclusionListing
	err := s.db.WithContext(ctx).
		Where("drawing_id = ? AND active", drawingID).
		Find(&listings).Error
	if err != nil {
		return nil, err
	}
	if len(listings) == 0 {
		return nil, nil
	}

	seen := make(map[snowflake.ID]struct{})
	var sellerIDs, outletIDs []int64
	for _, listing := range listings {
		switch listing.TargetType {
		case drawingdomain.ExclusionTargetTicket:
			seen[snowflake.ID(listing.TargetID)] = struct{}{}
		case drawingdomain.ExclusionTargetSeller:
			sellerIDs = append(sellerIDs, listing.TargetID)
		case drawingdomain.ExclusionTargetOutlet:
			outletIDs = append(outletIDs, listing.TargetID)
		}
	}

	if len(sellerIDs) > 0 || len(outletIDs) > 0 {
		stmt := s.db.WithContext(ctx).
			Model(&drawingdomain.Ticket{}).
			Where("drawing_id = ?", drawingID)
		switch {
		case len(sellerIDs) > 0 && len(outletIDs) > 0:
			stmt = stmt.Where("seller_id IN ? OR outlet_id IN ?", sellerIDs, outletIDs)
		case len(sellerIDs) > 0:
			stmt = stmt.Where("seller_id IN ?", sellerIDs)
		default:
			stmt = stmt.Where("outlet_id IN ?", outletIDs)
		}

		var ticketIDs []snowflake.ID
		if err := stmt.Pluck("id", &ticketIDs).Error; err != nil {
			return nil, err
		}
		for _, id := range ticketIDs {
			seen[id] = struct{}{}
		}
	}

	out := make([]snowflake.ID, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	return out, nil
}
