package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

type Kind string

const (
	KindPublisher        Kind = "publisher"
	KindIndiciaPublisher Kind = "indicia_publisher"
	KindBrand            Kind = "brand"
	KindSeries           Kind = "series"
	KindIssue            Kind = "issue"
	KindStory            Kind = "story"
	KindCover            Kind = "cover"
)

var AllKinds = []Kind{KindPublisher, KindIndiciaPublisher, KindBrand, KindSeries, KindIssue, KindStory, KindCover}

func (k Kind) Valid() bool {
	for _, known := range AllKinds {
		if k == known {
			return true
		}
	}
	return false
}

// Indexing levels of an issue. Anything above SomeData counts as indexed.
const (
	IndexSkeleton   = 0
	IndexSomeData   = 1
	IndexPartial    = 2
	IndexTenPercent = 3
	IndexFull       = 10
)

type FieldKind int

const (
	FieldScalar FieldKind = iota
	FieldText
	FieldSet
)

// Field is one comparable value of a payload. Scalars and text are
// rendered to strings; sets carry their members unordered.
type Field struct {
	Name  string
	Kind  FieldKind
	Value string
	Set   []string
}

// Data is the kind-specific payload shared by an entity and its revisions.
type Data interface {
	Kind() Kind
	Label() string
	Clone() Data
	Fields() []Field
	// Refs returns foreign keys by JSON field name. Zero ids are omitted.
	Refs() map[string]int64
	isData()
}

type Credit struct {
	Role    string `json:"role"`
	Creator string `json:"creator"`
}

type PublisherData struct {
	Name        string   `json:"name"`
	CountryCode string   `json:"country_code"`
	ParentID    *int64   `json:"parent_id,omitempty"`
	YearBegan   int      `json:"year_began,omitempty"`
	YearEnded   int      `json:"year_ended,omitempty"`
	URL         string   `json:"url,omitempty"`
	Notes       string   `json:"notes,omitempty"`
	Keywords    []string `json:"keywords,omitempty"`
}

type IndiciaPublisherData struct {
	Name        string   `json:"name"`
	PublisherID int64    `json:"publisher_id"`
	CountryCode string   `json:"country_code"`
	IsSurrogate bool     `json:"is_surrogate,omitempty"`
	YearBegan   int      `json:"year_began,omitempty"`
	YearEnded   int      `json:"year_ended,omitempty"`
	URL         string   `json:"url,omitempty"`
	Notes       string   `json:"notes,omitempty"`
	Keywords    []string `json:"keywords,omitempty"`
}

type BrandData struct {
	Name        string   `json:"name"`
	PublisherID int64    `json:"publisher_id"`
	YearBegan   int      `json:"year_began,omitempty"`
	YearEnded   int      `json:"year_ended,omitempty"`
	URL         string   `json:"url,omitempty"`
	Notes       string   `json:"notes,omitempty"`
	Keywords    []string `json:"keywords,omitempty"`
}

type SeriesData struct {
	Name                string   `json:"name"`
	SortName            string   `json:"sort_name"`
	PublisherID         int64    `json:"publisher_id"`
	CountryCode         string   `json:"country_code"`
	LanguageCode        string   `json:"language_code"`
	YearBegan           int      `json:"year_began,omitempty"`
	YearEnded           int      `json:"year_ended,omitempty"`
	IsCurrent           bool     `json:"is_current"`
	IsComicsPublication bool     `json:"is_comics_publication"`
	IsSingleton         bool     `json:"is_singleton"`
	Color               string   `json:"color,omitempty"`
	Dimensions          string   `json:"dimensions,omitempty"`
	PaperStock          string   `json:"paper_stock,omitempty"`
	Binding             string   `json:"binding,omitempty"`
	PublishingFormat    string   `json:"publishing_format,omitempty"`
	TrackingNotes       string   `json:"tracking_notes,omitempty"`
	Notes               string   `json:"notes,omitempty"`
	Keywords            []string `json:"keywords,omitempty"`
}

type IssueData struct {
	SeriesID           int64    `json:"series_id"`
	Number             string   `json:"number"`
	Volume             string   `json:"volume,omitempty"`
	Title              string   `json:"title,omitempty"`
	VariantOfID        *int64   `json:"variant_of_id,omitempty"`
	VariantName        string   `json:"variant_name,omitempty"`
	IsIndexed          int      `json:"is_indexed"`
	PublicationDate    string   `json:"publication_date,omitempty"`
	KeyDate            string   `json:"key_date,omitempty"`
	BrandID            *int64   `json:"brand_id,omitempty"`
	IndiciaPublisherID *int64   `json:"indicia_publisher_id,omitempty"`
	Price              string   `json:"price,omitempty"`
	PageCount          string   `json:"page_count,omitempty"`
	Barcode            string   `json:"barcode,omitempty"`
	NoBarcode          bool     `json:"no_barcode,omitempty"`
	ISBN               string   `json:"isbn,omitempty"`
	Notes              string   `json:"notes,omitempty"`
	Keywords           []string `json:"keywords,omitempty"`
}

type StoryData struct {
	IssueID   int64    `json:"issue_id"`
	Sequence  int      `json:"sequence"`
	Title     string   `json:"title,omitempty"`
	Type      string   `json:"type"`
	Feature   string   `json:"feature,omitempty"`
	Genres    []string `json:"genres,omitempty"`
	Credits   []Credit `json:"credits,omitempty"`
	PageCount string   `json:"page_count,omitempty"`
	Synopsis  string   `json:"synopsis,omitempty"`
	Notes     string   `json:"notes,omitempty"`
	Keywords  []string `json:"keywords,omitempty"`
}

type CoverData struct {
	IssueID      int64  `json:"issue_id"`
	IsWraparound bool   `json:"is_wraparound,omitempty"`
	Marked       bool   `json:"marked,omitempty"`
	Notes        string `json:"notes,omitempty"`
}

func (*PublisherData) Kind() Kind        { return KindPublisher }
func (*IndiciaPublisherData) Kind() Kind { return KindIndiciaPublisher }
func (*BrandData) Kind() Kind            { return KindBrand }
func (*SeriesData) Kind() Kind           { return KindSeries }
func (*IssueData) Kind() Kind            { return KindIssue }
func (*StoryData) Kind() Kind            { return KindStory }
func (*CoverData) Kind() Kind            { return KindCover }

func (*PublisherData) isData()        {}
func (*IndiciaPublisherData) isData() {}
func (*BrandData) isData()            {}
func (*SeriesData) isData()           {}
func (*IssueData) isData()            {}
func (*StoryData) isData()            {}
func (*CoverData) isData()            {}

func (d *PublisherData) Label() string        { return d.Name }
func (d *IndiciaPublisherData) Label() string { return d.Name }
func (d *BrandData) Label() string            { return d.Name }
func (d *SeriesData) Label() string           { return d.Name }

func (d *IssueData) Label() string {
	label := "#" + d.Number
	if d.VariantName != "" {
		label += " [" + d.VariantName + "]"
	}
	return label
}

func (d *StoryData) Label() string {
	if d.Title != "" {
		return d.Title
	}
	return fmt.Sprintf("sequence %d", d.Sequence)
}

func (d *CoverData) Label() string { return fmt.Sprintf("cover of issue %d", d.IssueID) }

func (d *PublisherData) Clone() Data {
	c := *d
	c.ParentID = cloneID(d.ParentID)
	c.Keywords = cloneStrings(d.Keywords)
	return &c
}

func (d *IndiciaPublisherData) Clone() Data {
	c := *d
	c.Keywords = cloneStrings(d.Keywords)
	return &c
}

func (d *BrandData) Clone() Data {
	c := *d
	c.Keywords = cloneStrings(d.Keywords)
	return &c
}

func (d *SeriesData) Clone() Data {
	c := *d
	c.Keywords = cloneStrings(d.Keywords)
	return &c
}

func (d *IssueData) Clone() Data {
	c := *d
	c.VariantOfID = cloneID(d.VariantOfID)
	c.BrandID = cloneID(d.BrandID)
	c.IndiciaPublisherID = cloneID(d.IndiciaPublisherID)
	c.Keywords = cloneStrings(d.Keywords)
	return &c
}

func (d *StoryData) Clone() Data {
	c := *d
	c.Genres = cloneStrings(d.Genres)
	if d.Credits != nil {
		c.Credits = append([]Credit(nil), d.Credits...)
	}
	c.Keywords = cloneStrings(d.Keywords)
	return &c
}

func (d *CoverData) Clone() Data {
	c := *d
	return &c
}

func (d *PublisherData) Fields() []Field {
	return []Field{
		scalar("name", d.Name),
		scalar("country", d.CountryCode),
		scalar("parent", idString(d.ParentID)),
		scalar("year_began", yearString(d.YearBegan)),
		scalar("year_ended", yearString(d.YearEnded)),
		scalar("url", d.URL),
		text("notes", d.Notes),
		set("keywords", d.Keywords),
	}
}

func (d *IndiciaPublisherData) Fields() []Field {
	return []Field{
		scalar("name", d.Name),
		scalar("publisher", strconv.FormatInt(d.PublisherID, 10)),
		scalar("country", d.CountryCode),
		scalar("is_surrogate", strconv.FormatBool(d.IsSurrogate)),
		scalar("year_began", yearString(d.YearBegan)),
		scalar("year_ended", yearString(d.YearEnded)),
		scalar("url", d.URL),
		text("notes", d.Notes),
		set("keywords", d.Keywords),
	}
}

func (d *BrandData) Fields() []Field {
	return []Field{
		scalar("name", d.Name),
		scalar("publisher", strconv.FormatInt(d.PublisherID, 10)),
		scalar("year_began", yearString(d.YearBegan)),
		scalar("year_ended", yearString(d.YearEnded)),
		scalar("url", d.URL),
		text("notes", d.Notes),
		set("keywords", d.Keywords),
	}
}

func (d *SeriesData) Fields() []Field {
	return []Field{
		scalar("name", d.Name),
		scalar("sort_name", d.SortName),
		scalar("publisher", strconv.FormatInt(d.PublisherID, 10)),
		scalar("country", d.CountryCode),
		scalar("language", d.LanguageCode),
		scalar("year_began", yearString(d.YearBegan)),
		scalar("year_ended", yearString(d.YearEnded)),
		scalar("is_current", strconv.FormatBool(d.IsCurrent)),
		scalar("is_comics_publication", strconv.FormatBool(d.IsComicsPublication)),
		scalar("is_singleton", strconv.FormatBool(d.IsSingleton)),
		scalar("color", d.Color),
		scalar("dimensions", d.Dimensions),
		scalar("paper_stock", d.PaperStock),
		scalar("binding", d.Binding),
		scalar("publishing_format", d.PublishingFormat),
		text("tracking_notes", d.TrackingNotes),
		text("notes", d.Notes),
		set("keywords", d.Keywords),
	}
}

func (d *IssueData) Fields() []Field {
	return []Field{
		scalar("series", strconv.FormatInt(d.SeriesID, 10)),
		scalar("number", d.Number),
		scalar("volume", d.Volume),
		scalar("title", d.Title),
		scalar("variant_of", idString(d.VariantOfID)),
		scalar("variant_name", d.VariantName),
		scalar("is_indexed", strconv.Itoa(d.IsIndexed)),
		scalar("publication_date", d.PublicationDate),
		scalar("key_date", d.KeyDate),
		scalar("brand", idString(d.BrandID)),
		scalar("indicia_publisher", idString(d.IndiciaPublisherID)),
		scalar("price", d.Price),
		scalar("page_count", d.PageCount),
		scalar("barcode", d.Barcode),
		scalar("no_barcode", strconv.FormatBool(d.NoBarcode)),
		scalar("isbn", d.ISBN),
		text("notes", d.Notes),
		set("keywords", d.Keywords),
	}
}

func (d *StoryData) Fields() []Field {
	credits := make([]string, 0, len(d.Credits))
	for _, credit := range d.Credits {
		credits = append(credits, credit.Role+": "+credit.Creator)
	}
	return []Field{
		scalar("issue", strconv.FormatInt(d.IssueID, 10)),
		scalar("sequence", strconv.Itoa(d.Sequence)),
		scalar("title", d.Title),
		scalar("type", d.Type),
		scalar("feature", d.Feature),
		set("genres", d.Genres),
		set("credits", credits),
		scalar("page_count", d.PageCount),
		text("synopsis", d.Synopsis),
		text("notes", d.Notes),
		set("keywords", d.Keywords),
	}
}

func (d *CoverData) Fields() []Field {
	return []Field{
		scalar("issue", strconv.FormatInt(d.IssueID, 10)),
		scalar("is_wraparound", strconv.FormatBool(d.IsWraparound)),
		scalar("marked", strconv.FormatBool(d.Marked)),
		text("notes", d.Notes),
	}
}

func (d *PublisherData) Refs() map[string]int64 {
	refs := map[string]int64{}
	if d.ParentID != nil {
		refs["parent_id"] = *d.ParentID
	}
	return refs
}

func (d *IndiciaPublisherData) Refs() map[string]int64 {
	return nonZero(map[string]int64{"publisher_id": d.PublisherID})
}

func (d *BrandData) Refs() map[string]int64 {
	return nonZero(map[string]int64{"publisher_id": d.PublisherID})
}

func (d *SeriesData) Refs() map[string]int64 {
	return nonZero(map[string]int64{"publisher_id": d.PublisherID})
}

func (d *IssueData) Refs() map[string]int64 {
	refs := map[string]int64{"series_id": d.SeriesID}
	if d.VariantOfID != nil {
		refs["variant_of_id"] = *d.VariantOfID
	}
	if d.BrandID != nil {
		refs["brand_id"] = *d.BrandID
	}
	if d.IndiciaPublisherID != nil {
		refs["indicia_publisher_id"] = *d.IndiciaPublisherID
	}
	return nonZero(refs)
}

func (d *StoryData) Refs() map[string]int64 {
	return nonZero(map[string]int64{"issue_id": d.IssueID})
}

func (d *CoverData) Refs() map[string]int64 {
	return nonZero(map[string]int64{"issue_id": d.IssueID})
}

// NewData returns an empty payload for kind.
func NewData(kind Kind) (Data, error) {
	switch kind {
	case KindPublisher:
		return &PublisherData{}, nil
	case KindIndiciaPublisher:
		return &IndiciaPublisherData{}, nil
	case KindBrand:
		return &BrandData{}, nil
	case KindSeries:
		return &SeriesData{}, nil
	case KindIssue:
		return &IssueData{}, nil
	case KindStory:
		return &StoryData{}, nil
	case KindCover:
		return &CoverData{}, nil
	default:
		return nil, fmt.Errorf("unknown kind %q", kind)
	}
}

// DecodeData unmarshals a JSON payload of the given kind.
func DecodeData(kind Kind, raw []byte) (Data, error) {
	data, err := NewData(kind)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return data, nil
	}
	if err := json.Unmarshal(raw, data); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", kind, err)
	}
	return data, nil
}

// StripArticle drops a leading English article from a series name for sorting.
func StripArticle(name string) string {
	trimmed := strings.TrimSpace(name)
	lower := strings.ToLower(trimmed)
	for _, article := range []string{"the ", "a ", "an "} {
		if strings.HasPrefix(lower, article) && len(trimmed) > len(article) {
			return strings.TrimSpace(trimmed[len(article):])
		}
	}
	return trimmed
}

func scalar(name, value string) Field {
	return Field{Name: name, Kind: FieldScalar, Value: value}
}

func text(name, value string) Field {
	return Field{Name: name, Kind: FieldText, Value: value}
}

func set(name string, values []string) Field {
	members := cloneStrings(values)
	sort.Strings(members)
	return Field{Name: name, Kind: FieldSet, Set: members}
}

func idString(id *int64) string {
	if id == nil {
		return ""
	}
	return strconv.FormatInt(*id, 10)
}

func yearString(year int) string {
	if year == 0 {
		return ""
	}
	return strconv.Itoa(year)
}

func cloneID(id *int64) *int64 {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}

func cloneStrings(values []string) []string {
	if values == nil {
		return nil
	}
	return append([]string(nil), values...)
}

func nonZero(refs map[string]int64) map[string]int64 {
	for key, id := range refs {
		if id == 0 {
			delete(refs, key)
		}
	}
	return refs
}
