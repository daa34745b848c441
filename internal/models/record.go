package models

import (
	"bytes"
	"crypto/md5"
	"errors"
	"strings"
	"time"
)

// StatusDeleted marks a record the repository reports as deleted
const StatusDeleted = "deleted"

// OAIRecord is one record (or bare header, for ListIdentifiers) as parsed
// from a response page.
type OAIRecord struct {
	Identifier string
	Datestamp  string
	SetSpecs   []string
	Deleted    bool
	XML        []byte
}

// RecordKey identifies a harvested record in the sink
type RecordKey struct {
	BaseURL    string
	Identifier string
}

// HarvestedRecord is the sink-facing form of a record.
//
// Checksum is computed from XML on construction only. SetXML leaves it
// alone; callers replacing the payload call RecomputeChecksum themselves.
type HarvestedRecord struct {
	BaseURL     string    `json:"base_url"`
	Identifier  string    `json:"identifier"`
	Sets        []string  `json:"sets,omitempty"`
	Datestamp   string    `json:"datestamp"`
	XML         []byte    `json:"xml"`
	Checksum    []byte    `json:"checksum"`
	Status      string    `json:"status,omitempty"`
	HarvestedAt time.Time `json:"harvested_at"`
}

// NewHarvestedRecord packages a parsed record for the sink
func NewHarvestedRecord(baseURL string, rec OAIRecord) *HarvestedRecord {
	r := &HarvestedRecord{
		BaseURL:    baseURL,
		Identifier: rec.Identifier,
		Datestamp:  rec.Datestamp,
		XML:        rec.XML,
		Checksum:   Checksum(rec.XML),
	}
	if rec.Deleted {
		r.Status = StatusDeleted
	}
	for _, set := range rec.SetSpecs {
		r.AddSet(set)
	}
	return r
}

// Checksum returns the MD5 digest of a payload
func Checksum(payload []byte) []byte {
	sum := md5.Sum(payload)
	return sum[:]
}

// Key returns the sink identity of the record
func (r *HarvestedRecord) Key() RecordKey {
	return RecordKey{BaseURL: r.BaseURL, Identifier: r.Identifier}
}

// AddSet adds a set spec, ignoring duplicates
func (r *HarvestedRecord) AddSet(spec string) {
	if spec == "" {
		return
	}
	for _, existing := range r.Sets {
		if existing == spec {
			return
		}
	}
	r.Sets = append(r.Sets, spec)
}

// SetXML replaces the payload. The checksum is not updated.
func (r *HarvestedRecord) SetXML(payload []byte) {
	r.XML = payload
}

// RecomputeChecksum brings the checksum back in line with the payload
func (r *HarvestedRecord) RecomputeChecksum() {
	r.Checksum = Checksum(r.XML)
}

// ChecksumValid reports whether the stored checksum matches the payload
func (r *HarvestedRecord) ChecksumValid() bool {
	return bytes.Equal(r.Checksum, Checksum(r.XML))
}

// IsDeleted reports whether the repository marked the record deleted
func (r *HarvestedRecord) IsDeleted() bool {
	return r.Status == StatusDeleted
}

// Validate checks the fields the sink's key and payload columns need
func (r *HarvestedRecord) Validate() error {
	if r.BaseURL == "" {
		return errors.New("base_url is required")
	}
	if r.Identifier == "" {
		return errors.New("identifier is required")
	}
	if len(r.XML) == 0 {
		return errors.New("xml payload is required")
	}
	// sets are stored newline-joined
	for _, spec := range r.Sets {
		if strings.ContainsAny(spec, "\r\n") {
			return errors.New("set spec contains a line break")
		}
	}
	return nil
}

// ParseResult is what a response parser reports about one page
type ParseResult struct {
	ResponseDate *time.Time
	Token        *ResumptionToken
	RecordCount  int
}

// RecordFunc receives each record parsed from a response page
type RecordFunc func(OAIRecord) error
