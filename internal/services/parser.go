package services

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/trobanga/oaiharvest/internal/lib"
	"github.com/trobanga/oaiharvest/internal/models"
)

// OAINamespace is the default namespace of OAI-PMH responses
const OAINamespace = "http://www.openarchives.org/OAI/2.0/"

// NoRecordsMatch is the OAI-PMH error code for an empty result list
const NoRecordsMatch = "noRecordsMatch"

// OAIParser streams an OAI-PMH response, handing records to a callback as
// they are decoded instead of building the whole page in memory.
type OAIParser struct {
	logger *lib.Logger
}

// NewOAIParser creates a parser
func NewOAIParser(logger *lib.Logger) *OAIParser {
	if logger == nil {
		logger = lib.DefaultLogger
	}
	return &OAIParser{logger: logger.Named("parser")}
}

type xmlHeader struct {
	Status     string   `xml:"status,attr"`
	Identifier string   `xml:"identifier"`
	Datestamp  string   `xml:"datestamp"`
	SetSpecs   []string `xml:"setSpec"`
	Inner      []byte   `xml:",innerxml"`
}

type xmlRecord struct {
	Header xmlHeader `xml:"header"`
	Inner  []byte    `xml:",innerxml"`
}

type xmlToken struct {
	Value            string `xml:",chardata"`
	ExpirationDate   string `xml:"expirationDate,attr"`
	CompleteListSize string `xml:"completeListSize,attr"`
	Cursor           string `xml:"cursor,attr"`
}

type xmlError struct {
	Code    string `xml:"code,attr"`
	Message string `xml:",chardata"`
}

// Parse reads one response page.
//
// Records (ListRecords, GetRecord) and bare headers (ListIdentifiers) are
// passed to onRecord in document order. A noRecordsMatch error element is
// an empty list, any other error element fails with an OAI protocol error.
// Errors returned by onRecord abort parsing and come back as handler errors;
// anything else returned is a decoding failure.
func (p *OAIParser) Parse(r io.Reader, onRecord models.RecordFunc) (models.ParseResult, error) {
	var result models.ParseResult

	dec := xml.NewDecoder(r)
	sawRoot := false
	// prefix bindings declared by each open ancestor element
	var scopes []map[string]string

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return result, err
		}

		var start xml.StartElement
		switch t := tok.(type) {
		case xml.StartElement:
			start = t
		case xml.EndElement:
			if len(scopes) > 0 {
				scopes = scopes[:len(scopes)-1]
			}
			continue
		default:
			continue
		}
		sawRoot = true

		switch start.Name.Local {
		case "responseDate":
			var value string
			if err := dec.DecodeElement(&value, &start); err != nil {
				return result, err
			}
			if t, err := time.Parse(time.RFC3339, strings.TrimSpace(value)); err == nil {
				t = t.UTC()
				result.ResponseDate = &t
			} else {
				p.logger.Debug("Ignoring unparseable responseDate", "value", value)
			}

		case "error":
			var oaiErr xmlError
			if err := dec.DecodeElement(&oaiErr, &start); err != nil {
				return result, err
			}
			if oaiErr.Code == NoRecordsMatch {
				continue
			}
			return result, lib.ErrOAI(oaiErr.Code, strings.TrimSpace(oaiErr.Message))

		case "record":
			var rec xmlRecord
			if err := dec.DecodeElement(&rec, &start); err != nil {
				return result, err
			}
			if err := p.emit(onRecord, rec.Header, wrapElement(start, rec.Inner, scopes)); err != nil {
				return result, err
			}
			result.RecordCount++

		case "header":
			// Only reached for ListIdentifiers; headers inside a record are
			// consumed together with it.
			var header xmlHeader
			if err := dec.DecodeElement(&header, &start); err != nil {
				return result, err
			}
			if err := p.emit(onRecord, header, wrapElement(start, header.Inner, scopes)); err != nil {
				return result, err
			}
			result.RecordCount++

		case "resumptionToken":
			var token xmlToken
			if err := dec.DecodeElement(&token, &start); err != nil {
				return result, err
			}
			result.Token = p.convertToken(token)

		default:
			scopes = append(scopes, declarations(start))
		}
	}

	if !sawRoot {
		return result, lib.ErrEmptyDocument
	}
	return result, nil
}

func (p *OAIParser) emit(onRecord models.RecordFunc, header xmlHeader, payload []byte) error {
	if onRecord == nil {
		return nil
	}
	rec := models.OAIRecord{
		Identifier: strings.TrimSpace(header.Identifier),
		Datestamp:  strings.TrimSpace(header.Datestamp),
		Deleted:    header.Status == models.StatusDeleted,
		XML:        payload,
	}
	for _, spec := range header.SetSpecs {
		if spec = strings.TrimSpace(spec); spec != "" {
			rec.SetSpecs = append(rec.SetSpecs, spec)
		}
	}
	if err := onRecord(rec); err != nil {
		return lib.ErrHandler("record "+rec.Identifier, err)
	}
	return nil
}

func (p *OAIParser) convertToken(t xmlToken) *models.ResumptionToken {
	token := &models.ResumptionToken{Token: strings.TrimSpace(t.Value)}

	if t.ExpirationDate != "" {
		if exp, err := time.Parse(time.RFC3339, t.ExpirationDate); err == nil {
			exp = exp.UTC()
			token.ExpirationDate = &exp
		} else {
			p.logger.Debug("Ignoring unparseable expirationDate", "value", t.ExpirationDate)
		}
	}
	if n, ok := parseCount(t.CompleteListSize); ok {
		token.CompleteListSize = &n
	}
	if n, ok := parseCount(t.Cursor); ok {
		token.Cursor = &n
	}
	return token
}

func parseCount(s string) (int64, bool) {
	if s == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// declarations returns the prefix bindings an element declares
func declarations(start xml.StartElement) map[string]string {
	var decl map[string]string
	for _, attr := range start.Attr {
		if attr.Name.Space != "xmlns" {
			continue
		}
		if decl == nil {
			decl = make(map[string]string)
		}
		decl[attr.Name.Local] = attr.Value
	}
	return decl
}

// wrapElement re-serializes an element from its inner XML. The element gets
// the namespace it was read in plus every prefix binding in scope at that
// point, so prefixed names in the payload stay resolvable on their own.
func wrapElement(start xml.StartElement, inner []byte, scopes []map[string]string) []byte {
	space := start.Name.Space
	if space == "" {
		space = OAINamespace
	}

	bindings := make(map[string]string)
	for _, decl := range scopes {
		maps.Copy(bindings, decl)
	}
	maps.Copy(bindings, declarations(start))

	var buf bytes.Buffer
	buf.Grow(len(inner) + len(start.Name.Local)*2 + len(space) + 16)
	fmt.Fprintf(&buf, "<%s xmlns=\"", start.Name.Local)
	_ = xml.EscapeText(&buf, []byte(space))
	buf.WriteByte('"')
	prefixes := make([]string, 0, len(bindings))
	for prefix := range bindings {
		prefixes = append(prefixes, prefix)
	}
	slices.Sort(prefixes)
	for _, prefix := range prefixes {
		fmt.Fprintf(&buf, " xmlns:%s=\"", prefix)
		_ = xml.EscapeText(&buf, []byte(bindings[prefix]))
		buf.WriteByte('"')
	}
	buf.WriteByte('>')
	buf.Write(inner)
	fmt.Fprintf(&buf, "</%s>", start.Name.Local)
	return buf.Bytes()
}
