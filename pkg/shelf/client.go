package shelf

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrClosed is returned by a Client that has been closed.
var ErrClosed = errors.New("shelf: client is closed")

// refreshAttempts bounds how often Refresh refetches when sync outcomes land
// while a page is in flight.
const refreshAttempts = 3

// Client is the offline-first book catalog. It serves reads from a remote
// layer (the last authoritative page set or push snapshot) with the pending
// operations replayed on top, and routes writes to the remote API, falling
// back to the durable queue when the API cannot be reached.
type Client struct {
	config  Config
	logger  *slog.Logger
	store   *Store
	remote  *Remote
	monitor *Monitor
	syncer  *Syncer
	push    *PushChannel

	mu         sync.RWMutex
	closed     bool
	started    bool
	runCtx     context.Context
	cancel     context.CancelFunc
	remoteSet  []Book // remote layer
	pending    []PendingOperation
	params     ListParams
	pagination Pagination
	pages      int // pages merged into remoteSet
	offline    bool
	loading    bool
	version    uint64 // bumped whenever sync outcomes touch remoteSet
	listeners  map[int]func(State)
	nextID     int

	wg          sync.WaitGroup
	unsubscribe func()
}

// New creates a Client. It opens the durable store and loads the cached
// snapshot, so State is usable before the first Refresh.
func New(config Config) (*Client, error) {
	if config.APIURL == "" {
		return nil, errors.New("APIURL is required")
	}
	if config.StorePath == "" {
		return nil, errors.New("StorePath is required")
	}
	config.setDefaults()

	store, err := NewStore(config.StorePath)
	if err != nil {
		return nil, err
	}
	store.logger = config.Logger

	remote := NewRemote(config.APIURL, config.HTTPClient)
	monitor := NewMonitor(remote, config.HostSignal, config.ProbeTimeout, config.ProbeInterval, config.Logger)

	c := &Client{
		config:    config,
		logger:    config.Logger,
		store:     store,
		remote:    remote,
		monitor:   monitor,
		syncer:    NewSyncer(store, remote, monitor, config.SyncInterval, config.Logger),
		params:    ListParams{Page: 1, Limit: config.PageSize},
		offline:   true,
		listeners: make(map[int]func(State)),
	}
	if config.PushURL != "" {
		c.push = NewPushChannel(config.PushURL, config.PushMinDelay, config.PushMaxDelay, config.Logger)
		c.push.OnSnapshot(c.applySnapshot)
	}
	c.syncer.OnSynced(c.handleSynced)
	c.syncer.OnDropped(c.handleDropped)

	ctx := context.Background()
	if err := c.loadOffline(ctx); err != nil {
		store.Close()
		return nil, err
	}
	if err := c.reloadPending(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return c, nil
}

// Start launches the network monitor, the synchronizer and the push channel.
// They run until Close is called or ctx is cancelled.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.started {
		c.mu.Unlock()
		return errors.New("client already started")
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.started = true
	c.runCtx = runCtx
	c.cancel = cancel
	c.unsubscribe = c.monitor.Subscribe(func(r Reachability) {
		c.notify()
		if r == Reachable && c.isOffline() {
			c.goRefresh(runCtx)
		}
	})
	// Workers join the WaitGroup before Close can observe started.
	c.startWorker(runCtx, "monitor", c.monitor.Run)
	c.startWorker(runCtx, "syncer", c.syncer.Run)
	if c.push != nil {
		c.startWorker(runCtx, "push", c.push.Run)
	}
	c.mu.Unlock()
	return nil
}

// Close stops the background loops, flushes the durable store and releases
// it. Calling Close more than once is safe.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	cancel := c.cancel
	unsubscribe := c.unsubscribe
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if unsubscribe != nil {
		unsubscribe()
	}
	c.wg.Wait()

	if err := c.store.Flush(context.Background()); err != nil {
		c.logger.Warn("store flush failed", "component", "client", "error", err)
	}
	return c.store.Close()
}

// startWorker runs fn in a goroutine tracked by the client's WaitGroup.
func (c *Client) startWorker(ctx context.Context, name string, fn func(ctx context.Context)) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.logger.Debug("worker started", "component", "client", "worker", name)
		fn(ctx)
		c.logger.Debug("worker stopped", "component", "client", "worker", name)
	}()
}

// Monitor returns the client's network monitor.
func (c *Client) Monitor() *Monitor {
	return c.monitor
}

// Store returns the client's durable store.
func (c *Client) Store() *Store {
	return c.store
}

// Refresh loads the first page for params. If the remote API cannot be
// reached the cached snapshot is served instead and the state is marked
// offline; only validation errors are returned in that case.
func (c *Client) Refresh(ctx context.Context, params ListParams) error {
	if c.isClosed() {
		return ErrClosed
	}
	params.Page = 1
	if params.Limit <= 0 {
		params.Limit = c.config.PageSize
	}

	var page *BookPage
	var err error
	for attempt := 0; attempt < refreshAttempts; attempt++ {
		version := c.currentVersion()
		page, err = c.remote.ListBooks(ctx, params)
		if err != nil || c.currentVersion() == version {
			break
		}
	}

	if err != nil {
		if IsValidationError(err) || ctx.Err() != nil {
			return err
		}
		c.logger.Warn("remote fetch failed, serving offline snapshot",
			"component", "client",
			"action", "refresh",
			"error", err,
		)
		c.mu.Lock()
		c.params = params
		c.mu.Unlock()
		if err := c.loadOffline(ctx); err != nil {
			return err
		}
		c.notify()
		return nil
	}

	c.mu.Lock()
	c.params = params
	c.remoteSet = page.Books
	c.pagination = page.Pagination
	c.pages = 1
	c.offline = false
	effective := applyOperations(c.remoteSet, c.pending)
	c.mu.Unlock()

	if err := c.store.SaveBooks(ctx, effective); err != nil {
		c.logger.Warn("offline snapshot not saved", "component", "client", "error", err)
	}
	c.notify()
	return nil
}

// LoadMore fetches the next page and appends the books not already loaded.
// It does nothing when there are no more pages or a load is in progress,
// and advances the cursor only after a successful fetch.
func (c *Client) LoadMore(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.loading || c.offline || !c.pagination.HasMore {
		c.mu.Unlock()
		return nil
	}
	c.loading = true
	params := c.params
	params.Page = c.pagination.Page + 1
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.loading = false
		c.mu.Unlock()
	}()

	page, err := c.remote.ListBooks(ctx, params)
	if err != nil {
		return fmt.Errorf("load page %d: %w", params.Page, err)
	}

	c.mu.Lock()
	if c.params.Filter != params.Filter || c.params.Sort != params.Sort || c.params.Limit != params.Limit {
		// A Refresh with other params won the race.
		c.mu.Unlock()
		return nil
	}
	merged := make([]Book, len(c.remoteSet), len(c.remoteSet)+len(page.Books))
	copy(merged, c.remoteSet)
	c.remoteSet = mergeBooks(merged, page.Books)
	c.pagination = page.Pagination
	c.pages = params.Page
	c.mu.Unlock()

	c.notify()
	return nil
}

// Add creates a book. When the remote API is unavailable the creation is
// queued and the optimistic record, carrying a temporary ID, is returned.
func (c *Client) Add(ctx context.Context, in BookInput) (*Book, error) {
	if c.isClosed() {
		return nil, ErrClosed
	}
	if err := validateInput(in); err != nil {
		return nil, err
	}

	book, err := c.remote.CreateBook(ctx, in)
	if err == nil {
		if err := c.confirm(ctx, OperationCreate, *book); err != nil {
			return nil, err
		}
		return book, nil
	}
	if !c.queueable(ctx, err) {
		return nil, err
	}

	b := in.WithID(0)
	op, err := c.enqueue(ctx, OperationCreate, OperationPayload{Book: &b})
	if err != nil {
		return nil, err
	}
	return op.Payload.Book, nil
}

// Update replaces the attributes of a book. Updates to a book with
// unconfirmed changes are queued behind them.
func (c *Client) Update(ctx context.Context, id int64, in BookInput) (*Book, error) {
	if c.isClosed() {
		return nil, ErrClosed
	}
	if err := validateInput(in); err != nil {
		return nil, err
	}

	b := in.WithID(id)
	if !c.hasPending(id) {
		book, err := c.remote.UpdateBook(ctx, id, in)
		if err == nil {
			if err := c.confirm(ctx, OperationUpdate, *book); err != nil {
				return nil, err
			}
			return book, nil
		}
		if !c.queueable(ctx, err) {
			return nil, err
		}
	}

	if _, err := c.enqueue(ctx, OperationUpdate, OperationPayload{ID: id, Book: &b}); err != nil {
		return nil, err
	}
	return &b, nil
}

// Remove deletes a book. A book already gone from the remote API is removed
// locally without error.
func (c *Client) Remove(ctx context.Context, id int64) error {
	if c.isClosed() {
		return ErrClosed
	}

	if !c.hasPending(id) {
		err := c.remote.DeleteBook(ctx, id)
		if err == nil || IsNotFound(err) {
			return c.confirm(ctx, OperationDelete, Book{ID: id})
		}
		if !c.queueable(ctx, err) {
			return err
		}
	}

	_, err := c.enqueue(ctx, OperationDelete, OperationPayload{ID: id})
	return err
}

// SyncNow runs a synchronizer pass immediately if the remote API is
// reachable.
func (c *Client) SyncNow(ctx context.Context) (SyncResult, error) {
	if c.isClosed() {
		return SyncResult{}, ErrClosed
	}
	if c.monitor.CheckConnection(ctx) != Reachable {
		return SyncResult{}, nil
	}
	result, err := c.syncer.SyncOfflineOperations(ctx)
	if err != nil {
		return result, err
	}
	if err := c.reloadPending(ctx); err != nil {
		return result, err
	}
	c.notify()
	return result, nil
}

// Books returns the current view: the pending operations replayed over the
// remote layer, filtered and sorted by the active params.
func (c *Client) Books() []Book {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.booksLocked()
}

// State returns a snapshot of the observable state.
func (c *Client) State() State {
	c.mu.RLock()
	books := c.booksLocked()
	s := State{
		Books:      books,
		Params:     c.params,
		Pagination: c.pagination,
		Offline:    c.offline,
		Pending:    len(c.pending),
	}
	c.mu.RUnlock()

	s.Reachability = c.monitor.State()
	if c.push != nil {
		s.PushConnected = c.push.IsConnected()
	}
	s.Syncing = c.syncer.IsSyncing()
	s.LastSync, s.LastSyncResult = c.syncer.LastSync()
	return s
}

// Subscribe registers fn to be called with the new state after every change.
// The returned function removes the subscription.
func (c *Client) Subscribe(fn func(State)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextID
	c.nextID++
	c.listeners[id] = fn

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.listeners, id)
	}
}

func (c *Client) booksLocked() []Book {
	return viewOf(applyOperations(c.remoteSet, c.pending), c.params)
}

func (c *Client) notify() {
	c.mu.RLock()
	listeners := make([]func(State), 0, len(c.listeners))
	for _, fn := range c.listeners {
		listeners = append(listeners, fn)
	}
	c.mu.RUnlock()
	if len(listeners) == 0 {
		return
	}

	s := c.State()
	for _, fn := range listeners {
		fn(s)
	}
}

// queueable reports whether a failed remote write should be queued. Requests
// the caller cancelled are not.
func (c *Client) queueable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if IsValidationError(err) || IsNotFound(err) {
		return false
	}
	c.logger.Info("remote write failed, queueing for sync",
		"component", "client",
		"error", err,
	)
	return true
}

// enqueue queues and applies an operation, then wakes the synchronizer.
func (c *Client) enqueue(ctx context.Context, kind OperationKind, payload OperationPayload) (PendingOperation, error) {
	op, _, err := c.store.Enqueue(ctx, kind, payload)
	if err != nil {
		return PendingOperation{}, fmt.Errorf("queue %s: %w", kind, err)
	}

	c.mu.Lock()
	c.pending = append(c.pending, op)
	c.mu.Unlock()

	c.syncer.Trigger()
	c.notify()
	return op, nil
}

// confirm applies a write the remote API accepted to the remote layer and
// the durable snapshot.
func (c *Client) confirm(ctx context.Context, kind OperationKind, book Book) error {
	op := confirmedOperation(kind, book)

	c.mu.Lock()
	c.remoteSet = applyOperation(c.remoteSet, op)
	switch kind {
	case OperationCreate:
		c.pagination.Total++
	case OperationDelete:
		if c.pagination.Total > 0 {
			c.pagination.Total--
		}
	}
	c.mu.Unlock()

	if _, err := c.store.ApplyOperationLocally(ctx, op); err != nil {
		return fmt.Errorf("persist confirmed %s: %w", kind, err)
	}
	c.notify()
	return nil
}

// confirmedOperation expresses a server-confirmed record as an operation:
// creates and updates become upserts, deletes stay deletes.
func confirmedOperation(kind OperationKind, book Book) PendingOperation {
	if kind == OperationDelete {
		return PendingOperation{Kind: OperationDelete, Payload: OperationPayload{ID: book.ID}}
	}
	return PendingOperation{Kind: OperationCreate, Payload: OperationPayload{ID: book.ID, Book: &book}}
}

// handleSynced folds a confirmed operation into the remote layer.
func (c *Client) handleSynced(op PendingOperation, book *Book) {
	c.mu.Lock()
	switch op.Kind {
	case OperationCreate:
		if book != nil {
			c.remoteSet = replaceBook(c.remoteSet, op.Payload.ID, *book)
		}
	case OperationUpdate:
		if book != nil {
			c.remoteSet = applyOperation(c.remoteSet, PendingOperation{
				Kind:    OperationUpdate,
				Payload: OperationPayload{ID: book.ID, Book: book},
			})
		}
	case OperationDelete:
		c.remoteSet = applyOperation(c.remoteSet, op)
	}
	c.version++
	c.mu.Unlock()

	c.afterSyncOutcome()
}

// handleDropped keeps the effect of an operation that exhausted its retries
// in the remote layer; the next refresh or push snapshot reconciles it.
func (c *Client) handleDropped(op PendingOperation) {
	c.mu.Lock()
	c.remoteSet = applyOperation(c.remoteSet, op)
	c.version++
	c.mu.Unlock()

	c.afterSyncOutcome()
}

func (c *Client) afterSyncOutcome() {
	if err := c.reloadPending(c.context()); err != nil {
		c.logger.Warn("pending operations not reloaded", "component", "client", "error", err)
	}
	c.notify()
}

// applySnapshot replaces the remote layer with a pushed catalog snapshot,
// keeping the active filter, sort and loaded page window.
func (c *Client) applySnapshot(books []Book) {
	c.mu.Lock()
	pages := c.pages
	if pages < 1 {
		pages = 1
	}
	params := c.params
	total := len(viewOf(books, params))
	c.remoteSet = windowOf(books, params, pages)
	c.pagination = paginationOf(total, params.Limit, pages)
	c.pages = pages
	c.offline = false
	c.version++
	effective := applyOperations(books, c.pending)
	c.mu.Unlock()

	if err := c.store.SaveBooks(c.context(), effective); err != nil {
		c.logger.Warn("pushed snapshot not saved", "component", "client", "error", err)
	}
	c.notify()
}

func paginationOf(total, limit, pages int) Pagination {
	if limit <= 0 {
		limit = total
	}
	totalPages := 0
	if limit > 0 {
		totalPages = (total + limit - 1) / limit
	}
	return Pagination{
		Page:       pages,
		Limit:      limit,
		Total:      total,
		TotalPages: totalPages,
		HasMore:    pages*limit < total,
	}
}

// loadOffline makes the durable snapshot the remote layer.
func (c *Client) loadOffline(ctx context.Context) error {
	books, err := c.store.GetBooks(ctx)
	if err != nil {
		return fmt.Errorf("load offline snapshot: %w", err)
	}

	c.mu.Lock()
	c.remoteSet = books
	c.pagination = paginationOf(len(viewOf(books, c.params)), c.params.Limit, 1)
	c.pagination.HasMore = false
	c.pages = 1
	c.offline = true
	c.mu.Unlock()
	return nil
}

func (c *Client) reloadPending(ctx context.Context) error {
	ops, err := c.store.GetOperations(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.pending = ops
	c.mu.Unlock()
	return nil
}

// hasPending reports whether an unconfirmed operation refers to id.
func (c *Client) hasPending(id int64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, op := range c.pending {
		if op.Payload.ID == id {
			return true
		}
	}
	return false
}

func (c *Client) goRefresh(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.mu.RLock()
		params := c.params
		c.mu.RUnlock()
		if err := c.Refresh(ctx, params); err != nil && ctx.Err() == nil {
			c.logger.Warn("refresh after reconnect failed", "component", "client", "error", err)
		}
	}()
}

func (c *Client) context() context.Context {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.runCtx != nil {
		return c.runCtx
	}
	return context.Background()
}

func (c *Client) currentVersion() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}

func (c *Client) isOffline() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.offline
}

func (c *Client) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}
