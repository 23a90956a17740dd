package shelf

import (
	"log/slog"
	"net/http"
	"time"
)

// Book is the record kept in sync with the remote catalog.
type Book struct {
	ID     int64   `json:"id"`
	Title  string  `json:"title"`
	Author string  `json:"author"`
	Genre  string  `json:"genre"`
	Price  float64 `json:"price"`
	Rating int     `json:"rating"`
}

// BookInput holds the mutable attributes of a Book.
type BookInput struct {
	Title  string  `json:"title"`
	Author string  `json:"author"`
	Genre  string  `json:"genre"`
	Price  float64 `json:"price"`
	Rating int     `json:"rating"`
}

// WithID returns the Book formed by the input and the given identifier.
func (in BookInput) WithID(id int64) Book {
	return Book{
		ID:     id,
		Title:  in.Title,
		Author: in.Author,
		Genre:  in.Genre,
		Price:  in.Price,
		Rating: in.Rating,
	}
}

// Input returns the mutable attributes of the book.
func (b Book) Input() BookInput {
	return BookInput{
		Title:  b.Title,
		Author: b.Author,
		Genre:  b.Genre,
		Price:  b.Price,
		Rating: b.Rating,
	}
}

// ListParams selects a page of books from the remote catalog.
type ListParams struct {
	Page   int    // 1-based page number (default: 1)
	Limit  int    // Page size (default: Config.PageSize)
	Filter string // Substring match, optionally "field:value"
	Sort   string // "field" or "field:asc|desc"
}

// Pagination describes the position of a page within the catalog.
type Pagination struct {
	Page       int  `json:"page"`
	Limit      int  `json:"limit"`
	Total      int  `json:"total"`
	TotalPages int  `json:"totalPages"`
	HasMore    bool `json:"hasMore"`
}

// BookPage is one page of the remote catalog.
type BookPage struct {
	Books      []Book     `json:"books"`
	Pagination Pagination `json:"pagination"`
}

// OperationKind identifies the mutation a PendingOperation carries.
type OperationKind string

const (
	OperationCreate OperationKind = "create"
	OperationUpdate OperationKind = "update"
	OperationDelete OperationKind = "delete"
)

// SyncStatus tracks a PendingOperation through the synchronizer.
type SyncStatus string

const (
	StatusPending SyncStatus = "pending"
	StatusSyncing SyncStatus = "syncing"
	StatusError   SyncStatus = "error"
)

// OperationPayload is the kind-specific data of a PendingOperation.
// Create and update carry the full record; delete carries only the ID.
type OperationPayload struct {
	ID   int64 `json:"id"`
	Book *Book `json:"book,omitempty"`
}

// PendingOperation is a mutation that the remote catalog has not confirmed yet.
type PendingOperation struct {
	ID         string           `json:"id"`
	Kind       OperationKind    `json:"kind"`
	Timestamp  int64            `json:"timestamp"` // unix nanoseconds, ordering key
	Payload    OperationPayload `json:"payload"`
	SyncStatus SyncStatus       `json:"syncStatus"`
	RetryCount int              `json:"retryCount"`
}

// Reachability is the derived connectivity state of the remote API.
type Reachability string

const (
	Reachable         Reachability = "reachable"
	Unreachable       Reachability = "unreachable"
	ServerUnreachable Reachability = "server-unreachable"
)

// SyncResult reports the outcome of one synchronizer pass.
type SyncResult struct {
	Synced   int  // Operations confirmed by the remote API
	Failed   int  // Operations that failed this pass, counting those then dropped
	Dropped  int  // Operations removed after reaching MaxRetryCount, or queued behind a dropped create
	Deferred int  // Operations held back behind a create that has not been confirmed
	Skipped  bool // Another pass was already running
}

// State is the observable view a Client exposes to its consumers.
type State struct {
	Books          []Book
	Params         ListParams
	Pagination     Pagination
	Offline        bool // Books came from the durable store, not the remote API
	Reachability   Reachability
	PushConnected  bool
	Pending        int
	Syncing        bool
	LastSync       *time.Time
	LastSyncResult SyncResult
}

// Config holds the Client configuration.
type Config struct {
	APIURL        string        // Remote API base URL, e.g. http://localhost:3001/api
	PushURL       string        // Push channel URL, e.g. ws://localhost:3001/ws (empty disables)
	StorePath     string        // Durable store database path
	PageSize      int           // Default page size (default: 10)
	ProbeTimeout  time.Duration // Reachability probe timeout (default: 5s)
	ProbeInterval time.Duration // Reachability check interval (default: 10s)
	SyncInterval  time.Duration // Fallback sync interval (default: 60s)
	PushMinDelay  time.Duration // Push reconnect delay floor (default: 1s)
	PushMaxDelay  time.Duration // Push reconnect delay cap (default: 30s)
	HostSignal    HostSignal    // Host connectivity signal (default: InterfaceSignal)
	HTTPClient    *http.Client  // HTTP client for remote calls (default: 30s timeout)
	Logger        *slog.Logger  // Logger (default: slog.Default())
}

func (c *Config) setDefaults() {
	if c.PageSize <= 0 {
		c.PageSize = 10
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 5 * time.Second
	}
	if c.ProbeInterval <= 0 {
		c.ProbeInterval = 10 * time.Second
	}
	if c.SyncInterval <= 0 {
		c.SyncInterval = 60 * time.Second
	}
	if c.PushMinDelay <= 0 {
		c.PushMinDelay = time.Second
	}
	if c.PushMaxDelay <= 0 {
		c.PushMaxDelay = 30 * time.Second
	}
	if c.HostSignal == nil {
		c.HostSignal = InterfaceSignal{}
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}
