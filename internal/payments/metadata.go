package payments

import (
	"fmt"
	"strconv"
	"strings"
)

// Metadata keys attached to every team cart payment intent.
const (
	MetadataCartID           = "cartId"
	MetadataMemberUserID     = "memberUserId"
	MetadataQuoteVersion     = "quoteVersion"
	MetadataQuotedMinorUnits = "quotedAmountMinorUnits"
	MetadataPaymentID        = "paymentId"
)

// TeamCartMetadata identifies the cart share a payment intent settles.
type TeamCartMetadata struct {
	CartID           string
	MemberUserID     string
	QuoteVersion     int64
	QuotedMinorUnits int64
	PaymentID        string
}

// Encode renders the metadata for the PSP.
func (m TeamCartMetadata) Encode() map[string]string {
	out := map[string]string{
		MetadataCartID:           m.CartID,
		MetadataMemberUserID:     m.MemberUserID,
		MetadataQuoteVersion:     strconv.FormatInt(m.QuoteVersion, 10),
		MetadataQuotedMinorUnits: strconv.FormatInt(m.QuotedMinorUnits, 10),
	}
	if m.PaymentID != "" {
		out[MetadataPaymentID] = m.PaymentID
	}
	return out
}

// ParseTeamCartMetadata extracts team cart metadata. ok is false when the intent does not
// belong to a team cart at all; err is set when the metadata is present but malformed.
func ParseTeamCartMetadata(values map[string]string) (meta TeamCartMetadata, ok bool, err error) {
	cartID := strings.TrimSpace(values[MetadataCartID])
	if cartID == "" {
		return TeamCartMetadata{}, false, nil
	}
	meta.CartID = cartID
	meta.MemberUserID = strings.TrimSpace(values[MetadataMemberUserID])
	meta.PaymentID = strings.TrimSpace(values[MetadataPaymentID])
	if meta.MemberUserID == "" {
		return TeamCartMetadata{}, true, fmt.Errorf("payments: %s is required", MetadataMemberUserID)
	}
	if meta.QuoteVersion, err = strconv.ParseInt(strings.TrimSpace(values[MetadataQuoteVersion]), 10, 64); err != nil {
		return TeamCartMetadata{}, true, fmt.Errorf("payments: invalid %s: %w", MetadataQuoteVersion, err)
	}
	if meta.QuotedMinorUnits, err = strconv.ParseInt(strings.TrimSpace(values[MetadataQuotedMinorUnits]), 10, 64); err != nil {
		return TeamCartMetadata{}, true, fmt.Errorf("payments: invalid %s: %w", MetadataQuotedMinorUnits, err)
	}
	return meta, true, nil
}
