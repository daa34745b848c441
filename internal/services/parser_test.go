package services_test

import (
	"encoding/xml"
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trobanga/oaiharvest/internal/lib"
	"github.com/trobanga/oaiharvest/internal/models"
	"github.com/trobanga/oaiharvest/internal/services"
)

const listRecordsPage = `<?xml version="1.0" encoding="UTF-8"?>
<OAI-PMH xmlns="http://www.openarchives.org/OAI/2.0/">
  <responseDate>2024-05-01T12:00:00Z</responseDate>
  <request verb="ListRecords" metadataPrefix="oai_dc">https://repo.example.org/oai</request>
  <ListRecords>
    <record>
      <header>
        <identifier>oai:x:1</identifier>
        <datestamp>2024-01-01</datestamp>
        <setSpec>physics</setSpec>
        <setSpec>math</setSpec>
      </header>
      <metadata><dc xmlns="http://purl.org/dc/elements/1.1/">A</dc></metadata>
    </record>
    <record>
      <header status="deleted">
        <identifier>oai:x:2</identifier>
        <datestamp>2024-01-02</datestamp>
      </header>
    </record>
    <resumptionToken expirationDate="2024-05-02T00:00:00Z" completeListSize="10" cursor="0">tok-2</resumptionToken>
  </ListRecords>
</OAI-PMH>`

const listIdentifiersPage = `<?xml version="1.0" encoding="UTF-8"?>
<OAI-PMH xmlns="http://www.openarchives.org/OAI/2.0/">
  <responseDate>2024-05-01T12:00:00Z</responseDate>
  <ListIdentifiers>
    <header><identifier>oai:x:1</identifier><datestamp>2024-01-01</datestamp></header>
    <header><identifier>oai:x:2</identifier><datestamp>2024-01-02</datestamp></header>
    <header><identifier>oai:x:3</identifier><datestamp>2024-01-03</datestamp></header>
    <resumptionToken completeListSize="3" cursor="0"></resumptionToken>
  </ListIdentifiers>
</OAI-PMH>`

func collect(t *testing.T, doc string) ([]models.OAIRecord, models.ParseResult, error) {
	t.Helper()
	var records []models.OAIRecord
	result, err := services.NewOAIParser(lib.NewNopLogger()).Parse(strings.NewReader(doc), func(rec models.OAIRecord) error {
		records = append(records, rec)
		return nil
	})
	return records, result, err
}

// TestOAIParser_ListRecords tests records, token and response date of a list page
func TestOAIParser_ListRecords(t *testing.T) {
	records, result, err := collect(t, listRecordsPage)
	require.NoError(t, err)

	require.Len(t, records, 2)
	assert.Equal(t, 2, result.RecordCount)

	first := records[0]
	assert.Equal(t, "oai:x:1", first.Identifier)
	assert.Equal(t, "2024-01-01", first.Datestamp)
	assert.Equal(t, []string{"physics", "math"}, first.SetSpecs)
	assert.False(t, first.Deleted)
	assert.True(t, strings.HasPrefix(string(first.XML), `<record xmlns="http://www.openarchives.org/OAI/2.0/">`))
	assert.Contains(t, string(first.XML), `<dc xmlns="http://purl.org/dc/elements/1.1/">A</dc>`)
	assert.True(t, strings.HasSuffix(string(first.XML), `</record>`))

	assert.True(t, records[1].Deleted)
	assert.Equal(t, "oai:x:2", records[1].Identifier)

	require.NotNil(t, result.ResponseDate)
	assert.True(t, result.ResponseDate.Equal(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)))

	require.NotNil(t, result.Token)
	assert.Equal(t, "tok-2", result.Token.Token)
	require.NotNil(t, result.Token.ExpirationDate)
	assert.True(t, result.Token.ExpirationDate.Equal(time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, int64(10), *result.Token.CompleteListSize)
	assert.Equal(t, int64(0), *result.Token.Cursor)
}

// TestOAIParser_ListIdentifiers tests bare headers and the empty final token
func TestOAIParser_ListIdentifiers(t *testing.T) {
	records, result, err := collect(t, listIdentifiersPage)
	require.NoError(t, err)

	require.Len(t, records, 3)
	assert.Equal(t, "oai:x:3", records[2].Identifier)
	assert.True(t, strings.HasPrefix(string(records[0].XML), `<header xmlns="http://www.openarchives.org/OAI/2.0/">`))

	require.NotNil(t, result.Token)
	assert.True(t, result.Token.IsEmpty())
	assert.Equal(t, int64(3), *result.Token.CompleteListSize)
}

// TestOAIParser_Errors tests protocol errors and undecodable documents
func TestOAIParser_Errors(t *testing.T) {
	t.Run("noRecordsMatch is an empty list", func(t *testing.T) {
		doc := `<OAI-PMH xmlns="http://www.openarchives.org/OAI/2.0/"><error code="noRecordsMatch">none</error></OAI-PMH>`
		records, result, err := collect(t, doc)
		require.NoError(t, err)
		assert.Empty(t, records)
		assert.Nil(t, result.Token)
	})

	t.Run("protocol error", func(t *testing.T) {
		doc := `<OAI-PMH xmlns="http://www.openarchives.org/OAI/2.0/"><error code="badArgument">Illegal argument</error></OAI-PMH>`
		_, _, err := collect(t, doc)
		require.Error(t, err)
		var harvestErr *lib.HarvestError
		require.True(t, errors.As(err, &harvestErr))
		assert.Equal(t, "badArgument", harvestErr.Code)
		assert.Contains(t, harvestErr.Message, "Illegal argument")
	})

	t.Run("empty document", func(t *testing.T) {
		_, _, err := collect(t, "  \n ")
		assert.ErrorIs(t, err, lib.ErrEmptyDocument)
	})

	t.Run("truncated document", func(t *testing.T) {
		_, _, err := collect(t, `<OAI-PMH xmlns="http://www.openarchives.org/OAI/2.0/"><ListRecords><record>`)
		require.Error(t, err)
		assert.NotErrorIs(t, err, lib.ErrEmptyDocument)
	})

	t.Run("unparseable token attributes are ignored", func(t *testing.T) {
		doc := `<OAI-PMH><ListSets><resumptionToken completeListSize="many" cursor="-1" expirationDate="soon">t</resumptionToken></ListSets></OAI-PMH>`
		_, result, err := collect(t, doc)
		require.NoError(t, err)
		require.NotNil(t, result.Token)
		assert.Equal(t, "t", result.Token.Token)
		assert.Nil(t, result.Token.CompleteListSize)
		assert.Nil(t, result.Token.Cursor)
		assert.Nil(t, result.Token.ExpirationDate)
	})
}

// TestOAIParser_HandlerError tests that a failing record callback aborts parsing
func TestOAIParser_HandlerError(t *testing.T) {
	calls := 0
	_, err := services.NewOAIParser(nil).Parse(strings.NewReader(listRecordsPage), func(models.OAIRecord) error {
		calls++
		return errors.New("queue full")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.True(t, lib.IsCategory(err, lib.CategoryHandler))
	assert.Contains(t, err.Error(), "oai:x:1")
}

const prefixedPage = `<?xml version="1.0" encoding="UTF-8"?>
<OAI-PMH xmlns="http://www.openarchives.org/OAI/2.0/"
         xmlns:oai_dc="http://www.openarchives.org/OAI/2.0/oai_dc/"
         xmlns:dc="http://purl.org/dc/elements/1.1/"
         xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance">
  <ListRecords xmlns:ex="http://example.org/ex">
    <record>
      <header><identifier>oai:x:1</identifier><datestamp>2024-01-01</datestamp></header>
      <metadata>
        <oai_dc:dc xsi:schemaLocation="x y"><dc:title>T</dc:title><ex:note>n</ex:note></oai_dc:dc>
      </metadata>
    </record>
  </ListRecords>
</OAI-PMH>`

// elementSpaces decodes a payload on its own and maps local names to namespaces
func elementSpaces(t *testing.T, payload []byte) (map[string]string, map[string]string) {
	t.Helper()
	elements := map[string]string{}
	attrs := map[string]string{}
	dec := xml.NewDecoder(strings.NewReader(string(payload)))
	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		if start, ok := tok.(xml.StartElement); ok {
			elements[start.Name.Local] = start.Name.Space
			for _, attr := range start.Attr {
				if attr.Name.Space != "xmlns" && attr.Name.Local != "xmlns" {
					attrs[attr.Name.Local] = attr.Name.Space
				}
			}
		}
	}
	return elements, attrs
}

// TestOAIParser_PrefixesDeclaredOnAncestors tests that a stored payload keeps
// the prefix bindings declared above the record
func TestOAIParser_PrefixesDeclaredOnAncestors(t *testing.T) {
	records, _, err := collect(t, prefixedPage)
	require.NoError(t, err)
	require.Len(t, records, 1)

	payload := records[0].XML
	elements, attrs := elementSpaces(t, payload)
	assert.Equal(t, "http://www.openarchives.org/OAI/2.0/", elements["record"])
	assert.Equal(t, "http://www.openarchives.org/OAI/2.0/oai_dc/", elements["dc"])
	assert.Equal(t, "http://purl.org/dc/elements/1.1/", elements["title"])
	assert.Equal(t, "http://example.org/ex", elements["note"])
	assert.Equal(t, "http://www.w3.org/2001/XMLSchema-instance", attrs["schemaLocation"])

	// A second parse of the same page yields a byte-identical payload
	again, _, err := collect(t, prefixedPage)
	require.NoError(t, err)
	assert.Equal(t, string(payload), string(again[0].XML))
}
