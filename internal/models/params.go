package models

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"
)

// Verb is an OAI-PMH request verb
type Verb string

const (
	VerbGetRecord           Verb = "GetRecord"
	VerbIdentify            Verb = "Identify"
	VerbListIdentifiers     Verb = "ListIdentifiers"
	VerbListMetadataFormats Verb = "ListMetadataFormats"
	VerbListRecords         Verb = "ListRecords"
	VerbListSets            Verb = "ListSets"
)

// OAI-PMH request argument names
const (
	ParamVerb            = "verb"
	ParamFrom            = "from"
	ParamUntil           = "until"
	ParamSet             = "set"
	ParamMetadataPrefix  = "metadataPrefix"
	ParamIdentifier      = "identifier"
	ParamResumptionToken = "resumptionToken"
)

// Granularity of from/until datestamps
type Granularity string

const (
	GranularityDay     Granularity = "YYYY-MM-DD"
	GranularitySeconds Granularity = "YYYY-MM-DDThh:mm:ssZ"
)

var verbArguments = map[Verb][]string{
	VerbListRecords:         {ParamFrom, ParamUntil, ParamSet, ParamResumptionToken, ParamMetadataPrefix},
	VerbListIdentifiers:     {ParamFrom, ParamUntil, ParamSet, ParamResumptionToken, ParamMetadataPrefix},
	VerbGetRecord:           {ParamIdentifier, ParamMetadataPrefix},
	VerbListSets:            {ParamResumptionToken},
	VerbListMetadataFormats: {ParamIdentifier},
	VerbIdentify:            {},
}

// IsValid checks if the verb is one of the six OAI-PMH verbs
func (v Verb) IsValid() bool {
	_, ok := verbArguments[v]
	return ok
}

// ProducesRecords reports whether responses to this verb carry record headers
func (v Verb) ProducesRecords() bool {
	return v == VerbListRecords || v == VerbListIdentifiers || v == VerbGetRecord
}

// AllowsArgument reports whether name is a legal argument for the verb
func (v Verb) AllowsArgument(name string) bool {
	for _, arg := range verbArguments[v] {
		if arg == name {
			return true
		}
	}
	return false
}

// HarvestParams describes one harvest request: a repository, a verb and
// its arguments. Values are immutable; every With* method returns a copy.
type HarvestParams struct {
	baseURI     *url.URL
	verb        Verb
	params      map[string]string
	granularity Granularity
}

// NewHarvestParams validates and builds harvest parameters
func NewHarvestParams(baseURI string, verb Verb, args map[string]string) (HarvestParams, error) {
	u, err := url.Parse(baseURI)
	if err != nil {
		return HarvestParams{}, fmt.Errorf("invalid base URI %q: %w", baseURI, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return HarvestParams{}, fmt.Errorf("base URI must be an absolute http(s) URL: %q", baseURI)
	}
	if !verb.IsValid() {
		return HarvestParams{}, fmt.Errorf("unsupported verb: %q", verb)
	}

	params := make(map[string]string, len(args)+1)
	for name, value := range args {
		if name == ParamVerb || value == "" {
			continue
		}
		if !verb.AllowsArgument(name) {
			return HarvestParams{}, fmt.Errorf("argument %q is not allowed for verb %s", name, verb)
		}
		params[name] = value
	}
	params[ParamVerb] = string(verb)

	p := HarvestParams{baseURI: u, verb: verb, params: params, granularity: GranularityDay}
	if err := p.Validate(); err != nil {
		return HarvestParams{}, err
	}
	return p, nil
}

// MustHarvestParams is NewHarvestParams for static values; it panics on error
func MustHarvestParams(baseURI string, verb Verb, args map[string]string) HarvestParams {
	p, err := NewHarvestParams(baseURI, verb, args)
	if err != nil {
		panic(err)
	}
	return p
}

// Validate checks required arguments for the verb
func (p HarvestParams) Validate() error {
	if p.baseURI == nil {
		return fmt.Errorf("base URI is required")
	}
	if _, ok := p.params[ParamResumptionToken]; ok {
		// A resumption token is an exclusive argument.
		if len(p.params) != 2 {
			return fmt.Errorf("resumptionToken must be the only argument besides verb")
		}
		return nil
	}
	switch p.verb {
	case VerbListRecords, VerbListIdentifiers:
		if p.params[ParamMetadataPrefix] == "" {
			return fmt.Errorf("%s requires metadataPrefix", p.verb)
		}
	case VerbGetRecord:
		if p.params[ParamMetadataPrefix] == "" || p.params[ParamIdentifier] == "" {
			return fmt.Errorf("GetRecord requires identifier and metadataPrefix")
		}
	}
	return nil
}

// BaseURI returns a copy of the repository base URI
func (p HarvestParams) BaseURI() *url.URL {
	if p.baseURI == nil {
		return nil
	}
	u := *p.baseURI
	return &u
}

// BaseURL returns the repository base URI as a string
func (p HarvestParams) BaseURL() string {
	if p.baseURI == nil {
		return ""
	}
	return p.baseURI.String()
}

// Verb returns the request verb
func (p HarvestParams) Verb() Verb {
	return p.verb
}

// Parameters returns a copy of the request arguments, including verb
func (p HarvestParams) Parameters() map[string]string {
	out := make(map[string]string, len(p.params))
	for k, v := range p.params {
		out[k] = v
	}
	return out
}

// Get returns a single argument value
func (p HarvestParams) Get(name string) string {
	return p.params[name]
}

// IsZero reports whether p was never initialized
func (p HarvestParams) IsZero() bool {
	return p.baseURI == nil
}

// Query encodes the request arguments as URL values
func (p HarvestParams) Query() url.Values {
	values := url.Values{}
	for k, v := range p.params {
		values.Set(k, v)
	}
	return values
}

// RequestURL returns the base URI with the arguments as query string
func (p HarvestParams) RequestURL() string {
	u := p.BaseURI()
	if u == nil {
		return ""
	}
	u.RawQuery = p.Query().Encode()
	return u.String()
}

// RetryParams derives parameters that resume this harvest. With a token the
// result is exactly {verb, resumptionToken}; without one it is p itself.
func (p HarvestParams) RetryParams(token *ResumptionToken) HarvestParams {
	if token == nil || token.IsEmpty() {
		return p
	}
	return HarvestParams{
		baseURI: p.BaseURI(),
		verb:    p.verb,
		params: map[string]string{
			ParamVerb:            string(p.verb),
			ParamResumptionToken: token.Token,
		},
		granularity: p.granularity,
	}
}

// Equal compares base URI, verb and arguments
func (p HarvestParams) Equal(other HarvestParams) bool {
	if p.BaseURL() != other.BaseURL() || p.verb != other.verb || len(p.params) != len(other.params) {
		return false
	}
	for k, v := range p.params {
		if other.params[k] != v {
			return false
		}
	}
	return true
}

// WithGranularity switches datestamp formatting for From/Until
func (p HarvestParams) WithGranularity(g Granularity) HarvestParams {
	p.granularity = g
	return p
}

// WithFrom sets the lower datestamp bound
func (p HarvestParams) WithFrom(t time.Time) HarvestParams {
	return p.with(ParamFrom, p.formatDate(t))
}

// WithUntil sets the upper datestamp bound
func (p HarvestParams) WithUntil(t time.Time) HarvestParams {
	return p.with(ParamUntil, p.formatDate(t))
}

// WithSet restricts the harvest to a set
func (p HarvestParams) WithSet(set string) HarvestParams {
	return p.with(ParamSet, set)
}

// WithMetadataPrefix selects the metadata format
func (p HarvestParams) WithMetadataPrefix(prefix string) HarvestParams {
	return p.with(ParamMetadataPrefix, prefix)
}

// WithIdentifier selects a single record
func (p HarvestParams) WithIdentifier(identifier string) HarvestParams {
	return p.with(ParamIdentifier, identifier)
}

func (p HarvestParams) with(name string, value string) HarvestParams {
	params := p.Parameters()
	if value == "" {
		delete(params, name)
	} else {
		params[name] = value
	}
	p.params = params
	return p
}

func (p HarvestParams) formatDate(t time.Time) string {
	if p.granularity == GranularitySeconds {
		return t.UTC().Format(time.RFC3339)
	}
	return t.UTC().Format(time.DateOnly)
}

// String renders the parameters for logs, with arguments in stable order
func (p HarvestParams) String() string {
	keys := make([]string, 0, len(p.params))
	for k := range p.params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, p.params[k]))
	}
	return fmt.Sprintf("%s?%s", p.BaseURL(), strings.Join(parts, "&"))
}
