package store

import "time"

type State int

const (
	StateOpen       State = 1
	StatePending    State = 2
	StateReviewing  State = 4
	StateApproved   State = 5
	StateDiscarded  State = 6
	StateUnreserved State = 99
)

var ActiveStates = []State{StateOpen, StatePending, StateReviewing}

func (s State) Active() bool {
	return s == StateOpen || s == StatePending || s == StateReviewing
}

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StatePending:
		return "pending"
	case StateReviewing:
		return "reviewing"
	case StateApproved:
		return "approved"
	case StateDiscarded:
		return "discarded"
	case StateUnreserved:
		return "unreserved"
	default:
		return "unknown"
	}
}

type ChangeType string

const (
	ChangePublisher        ChangeType = "publisher"
	ChangeIndiciaPublisher ChangeType = "indicia_publisher"
	ChangeBrand            ChangeType = "brand"
	ChangeSeries           ChangeType = "series"
	ChangeIssue            ChangeType = "issue"
	ChangeIssueAdd         ChangeType = "issue_add"
	ChangeVariantAdd       ChangeType = "variant_add"
	ChangeTwoIssues        ChangeType = "two_issues"
	ChangeStory            ChangeType = "story"
	ChangeCover            ChangeType = "cover"
)

// Record is a canonical entity row.
type Record struct {
	Kind      Kind
	ID        int64
	Deleted   bool
	Reserved  bool
	Counts    map[string]int
	Data      Data
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Cached per-entity counts kept on Record.Counts.
const (
	CountIssues = "issue_count"
	CountSeries = "series_count"
)

type Revision struct {
	ID                   int64
	ChangesetID          int64
	Kind                 Kind
	SourceID             *int64
	PreviousRevisionID   *int64
	ParentRevisionID     *int64
	Added                bool
	Deleted              bool
	Committed            *bool
	ReservationRequested bool
	Data                 Data
	// Baseline is the source payload at reservation time, kept when the
	// source has no committed revision to compare against.
	Baseline             Data
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

func (r Revision) Open() bool {
	return r.Committed == nil
}

type Changeset struct {
	ID         int64
	IndexerID  int64
	ApproverID *int64
	State      State
	ChangeType ChangeType
	Imps       int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type Comment struct {
	ID          int64
	ChangesetID int64
	CommenterID int64
	Text        string
	OldState    State
	NewState    State
	CreatedAt   time.Time
}

type Lock struct {
	Kind        Kind
	EntityID    int64
	ChangesetID int64
	CreatedAt   time.Time
}

type Indexer struct {
	UserID          int64
	Name            string
	Email           string
	Role            string
	IsNew           bool
	MaxReservations int
	MaxOngoing      int
	MentorID        *int64
	Imps            int
	NotifyOnApprove bool
	CreatedAt       time.Time
}

type OngoingReservation struct {
	SeriesID  int64
	IndexerID int64
	CreatedAt time.Time
}

// CountStat is one aggregate counter. Empty Language and Country mean the
// bucket is not partitioned on that axis; both empty is the global row.
type CountStat struct {
	Name     string
	Language string
	Country  string
	Count    int64
}

type StatBucket struct {
	Language string
	Country  string
}

type ChangesetFilter struct {
	IndexerID          *int64
	ApproverID         *int64
	States             []State
	ExcludeChangeTypes []ChangeType
	UpdatedBefore      time.Time
	Limit              int
}
