package models

import "time"

// ResumptionToken is the pagination cursor a repository attaches to an
// incomplete list response.
type ResumptionToken struct {
	Token            string     `json:"token"`
	ExpirationDate   *time.Time `json:"expiration_date,omitempty"`
	CompleteListSize *int64     `json:"complete_list_size,omitempty"`
	Cursor           *int64     `json:"cursor,omitempty"`
}

// IsEmpty reports whether the token carries no value, which marks the end of a list
func (t *ResumptionToken) IsEmpty() bool {
	return t == nil || t.Token == ""
}

// Expired reports whether the repository's expiration date has passed
func (t *ResumptionToken) Expired(now time.Time) bool {
	if t == nil || t.ExpirationDate == nil {
		return false
	}
	return now.After(*t.ExpirationDate)
}

// Remaining returns how many records are left after this page, if the
// repository reported both the list size and the cursor.
func (t *ResumptionToken) Remaining() (int64, bool) {
	if t == nil || t.CompleteListSize == nil || t.Cursor == nil {
		return 0, false
	}
	remaining := *t.CompleteListSize - *t.Cursor
	if remaining < 0 {
		remaining = 0
	}
	return remaining, true
}
