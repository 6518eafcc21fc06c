package schema

import (
	"encoding/json"
	"fmt"
)

// UnmarshalByTag decodes data into the concrete record type named by tag.
// This is the single serialization helper the whole engine routes through,
// replacing the decorator-based per-field schema declarations the source
// used.
func UnmarshalByTag(tag string, data []byte) (Record, error) {
	switch tag {
	case TagRelease:
		var r Release
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, fmt.Errorf("unmarshal release: %w", err)
		}
		return r, nil
	case TagFeaturedRelease:
		var r FeaturedRelease
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, fmt.Errorf("unmarshal featuredRelease: %w", err)
		}
		return r, nil
	case TagContentCategory:
		var r ContentCategory
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, fmt.Errorf("unmarshal contentCategory: %w", err)
		}
		return r, nil
	case TagBlockedContent:
		var r BlockedContent
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, fmt.Errorf("unmarshal blockedContent: %w", err)
		}
		return r, nil
	case TagSubscription:
		var r Subscription
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, fmt.Errorf("unmarshal subscription: %w", err)
		}
		return r, nil
	case TagMember:
		var r Member
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, fmt.Errorf("unmarshal member: %w", err)
		}
		return r, nil
	case TagAdministrator:
		var r Administrator
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, fmt.Errorf("unmarshal administrator: %w", err)
		}
		return r, nil
	default:
		return nil, ErrUnknownTag{Tag: tag}
	}
}

// Marshal serializes any record to its canonical JSON wire form.
func Marshal(r Record) ([]byte, error) {
	return json.Marshal(r)
}

// RecordKey returns the record's natural storage key: its opaque ID for
// most collections, or its public key for members/administrators.
func RecordKey(r Record) (string, error) {
	switch v := r.(type) {
	case Release:
		return v.ID, nil
	case FeaturedRelease:
		return v.ID, nil
	case ContentCategory:
		return v.ID, nil
	case BlockedContent:
		return v.ID, nil
	case Subscription:
		return v.ID, nil
	case Member:
		return v.PublicKey, nil
	case Administrator:
		return v.PublicKey, nil
	default:
		return "", fmt.Errorf("schema: unknown record type %T", r)
	}
}

// SiteAddressOf returns the siteAddress field of a record, or "" for
// Member/Administrator which carry no siteAddress.
func SiteAddressOf(r Record) string {
	switch v := r.(type) {
	case Release:
		return v.SiteAddress
	case FeaturedRelease:
		return v.SiteAddress
	case ContentCategory:
		return v.SiteAddress
	case BlockedContent:
		return v.SiteAddress
	case Subscription:
		return v.SiteAddress
	default:
		return ""
	}
}

// PostedByOf returns the postedBy field of a record, or "" for types that
// don't carry one (Member/Administrator are keyed by their own public key).
func PostedByOf(r Record) string {
	switch v := r.(type) {
	case Release:
		return v.PostedBy
	case FeaturedRelease:
		return v.PostedBy
	case ContentCategory:
		return v.PostedBy
	case BlockedContent:
		return v.PostedBy
	case Subscription:
		return v.PostedBy
	default:
		return ""
	}
}

// IndexFields extracts the flat key/value pairs used for the document's
// search index — the fields a query may filter on. Kept to the small set
// the Federation Manager and Access Policy actually query by.
func IndexFields(r Record) map[string]string {
	fields := map[string]string{"id": mustKey(r)}
	switch v := r.(type) {
	case Release:
		fields["siteAddress"] = v.SiteAddress
		fields["postedBy"] = v.PostedBy
		fields["categoryId"] = v.CategoryID
		fields["name"] = v.Name
	case FeaturedRelease:
		fields["siteAddress"] = v.SiteAddress
		fields["postedBy"] = v.PostedBy
		fields["releaseId"] = v.ReleaseID
	case ContentCategory:
		fields["siteAddress"] = v.SiteAddress
		fields["postedBy"] = v.PostedBy
		fields["categoryId"] = v.CategoryID
	case BlockedContent:
		fields["siteAddress"] = v.SiteAddress
		fields["postedBy"] = v.PostedBy
		fields["contentCid"] = v.ContentCID
	case Subscription:
		fields["siteAddress"] = v.SiteAddress
		fields["postedBy"] = v.PostedBy
		fields["to"] = v.To
	case Member:
		fields["publicKey"] = v.PublicKey
	case Administrator:
		fields["publicKey"] = v.PublicKey
	}
	return fields
}

func mustKey(r Record) string {
	k, _ := RecordKey(r)
	return k
}
