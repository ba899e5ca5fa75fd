// Package pushnotifications registers a device for push notifications and
// manages its interest subscriptions and user binding.
//
// An Instance is an explicit handle for one push notifications instance:
//
//	pn, err := pushnotifications.Start(ctx, instanceID,
//		pushnotifications.WithSQLitePath("state.db"),
//		pushnotifications.WithDeviceToken(token))
//	if err != nil { ... }
//	defer pn.Close()
//	err = pn.Subscribe(ctx, "hello")
//
// Every change is applied to local state immediately and synced to the device
// API in the background, in order, surviving restarts when a durable store is
// configured. Package compat offers a process-wide singleton on top.
package pushnotifications

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/tinywideclouds/go-pushnotifications/internal/api"
	"github.com/tinywideclouds/go-pushnotifications/internal/reporting"
	"github.com/tinywideclouds/go-pushnotifications/internal/serversync"
	"github.com/tinywideclouds/go-pushnotifications/internal/state"
	"github.com/tinywideclouds/go-pushnotifications/internal/state/memory"
	"github.com/tinywideclouds/go-pushnotifications/internal/state/sqlite"
	"github.com/tinywideclouds/go-pushnotifications/pkg/auth"
	"github.com/tinywideclouds/go-pushnotifications/pkg/device"
)

// SDKVersion is reported to the device API.
const SDKVersion = "1.4.0"

type Instance struct {
	instanceID string
	opts       options
	logger     *slog.Logger

	state    *state.Store
	queue    device.JobQueue
	client   *api.Client
	sync     *serversync.Handler
	reporter *reporting.Client
	db       *sql.DB
	metadata device.Metadata

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu            sync.Mutex
	workerStarted bool
	deviceToken   string

	listenersMu sync.RWMutex
	onMessage   func(Message)
	onInterests func([]string)

	userMu        sync.Mutex
	tokenProvider auth.TokenProvider
	userCallbacks map[string][]func(error)
}

// New builds an Instance without starting it.
func New(instanceID string, opts ...Option) (*Instance, error) {
	if instanceID == "" {
		return nil, ErrEmptyInstanceID
	}

	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger.With("component", "pushnotifications", "instance_id", instanceID)

	i := &Instance{
		instanceID:    instanceID,
		opts:          o,
		logger:        logger,
		deviceToken:   o.deviceToken,
		userCallbacks: make(map[string][]func(error)),
		metadata:      serversync.DefaultMetadata(SDKVersion),
	}
	if o.metadata != nil {
		i.metadata = *o.metadata
	}

	stateStore, queue := o.stateStore, o.jobQueue
	if o.sqlitePath != "" && (stateStore == nil || queue == nil) {
		db, err := sqlite.Open(context.Background(), o.sqlitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open state database: %w", err)
		}
		i.db = db
		if stateStore == nil {
			stateStore = sqlite.NewStateStore(db, instanceID)
		}
		if queue == nil {
			queue = sqlite.NewJobQueue(db, instanceID, logger)
		}
	}
	if stateStore == nil {
		stateStore = memory.NewStateStore()
	}
	if queue == nil {
		queue = memory.NewJobQueue()
	}
	i.state = state.New(stateStore)
	i.queue = queue

	clientOpts := []api.Option{api.WithLogger(logger), api.WithSDKVersion(SDKVersion)}
	reportingOpts := []reporting.Option{reporting.WithLogger(logger)}
	if o.baseURL != "" {
		clientOpts = append(clientOpts, api.WithBaseURL(o.baseURL))
	}
	if o.reportingBaseURL != "" {
		reportingOpts = append(reportingOpts, reporting.WithBaseURL(o.reportingBaseURL))
	}
	if o.httpClient != nil {
		clientOpts = append(clientOpts, api.WithHTTPClient(o.httpClient))
		reportingOpts = append(reportingOpts, reporting.WithHTTPClient(o.httpClient))
	}
	i.reporter = reporting.NewClient(instanceID, reportingOpts...)
	i.client = api.NewClient(instanceID, clientOpts...)

	i.sync = serversync.New(
		i.client,
		i.state,
		queue,
		i.currentTokenProvider,
		serversync.Events{
			InterestsChanged: i.notifyInterests,
			SetUserIDResult:  i.onSetUserIDResult,
		},
		serversync.Config{
			Retry:                o.retry,
			TokenProviderTimeout: o.tokenProviderTimeout,
			Metadata:             i.metadata,
		},
		logger,
	)

	i.ctx, i.cancel = context.WithCancel(context.Background())
	return i, nil
}

// Start builds and starts an Instance.
func Start(ctx context.Context, instanceID string, opts ...Option) (*Instance, error) {
	i, err := New(instanceID, opts...)
	if err != nil {
		return nil, err
	}
	if err := i.Start(ctx); err != nil {
		i.Close()
		return nil, err
	}
	return i, nil
}

// InstanceID returns the id the handle was built for.
func (i *Instance) InstanceID() string {
	return i.instanceID
}

// Start boots the sync worker, replaying any jobs left from a previous run,
// and registers the device once a device token is known. Calling Start again
// is a no-op until Stop.
func (i *Instance) Start(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if !i.workerStarted {
		if err := i.sync.Start(i.ctx); err != nil {
			return fmt.Errorf("failed to start server sync: %w", err)
		}
		i.workerStarted = true
	} else {
		st, err := i.state.Get(ctx)
		if err != nil {
			return err
		}
		if st.StartHasBeenCalled {
			return nil
		}
	}

	st, err := i.state.Update(ctx, func(s *device.State) (bool, error) {
		if s.StartHasBeenCalled {
			return false, nil
		}
		s.StartHasBeenCalled = true
		return true, nil
	})
	if err != nil {
		return fmt.Errorf("failed to save device state: %w", err)
	}

	if err := i.sync.Enqueue(ctx, device.ApplicationStartJob(i.metadata)); err != nil {
		return fmt.Errorf("failed to enqueue application start: %w", err)
	}
	if i.deviceToken != "" {
		if err := i.enqueueToken(ctx, st, i.deviceToken); err != nil {
			return err
		}
	}
	i.logger.Info("Push notifications started", "registered", st.Registered())
	return nil
}

// SetDeviceToken is called by the messaging layer whenever it issues a token.
func (i *Instance) SetDeviceToken(ctx context.Context, token string) error {
	if token == "" {
		return errors.New("device token must not be empty")
	}
	i.mu.Lock()
	defer i.mu.Unlock()

	i.deviceToken = token
	st, err := i.state.Get(ctx)
	if err != nil {
		return err
	}
	if !st.StartHasBeenCalled {
		// picked up by Start
		return nil
	}
	return i.enqueueToken(ctx, st, token)
}

// enqueueToken registers the device unless it is, or is about to be,
// registered already, in which case the token is refreshed.
func (i *Instance) enqueueToken(ctx context.Context, st device.State, token string) error {
	pending, err := i.sync.PendingLifecycle(ctx)
	if err != nil {
		return err
	}

	switch {
	case pending == serversync.PendingStart:
		return i.sync.Enqueue(ctx, device.RefreshTokenJob(token))
	case pending == serversync.PendingNone && st.Registered():
		if st.DeviceToken == token {
			return nil
		}
		return i.sync.Enqueue(ctx, device.RefreshTokenJob(token))
	default:
		return i.sync.Enqueue(ctx, device.StartJob(token, nil))
	}
}

func (i *Instance) Subscribe(ctx context.Context, interest string) error {
	return i.mutateInterests(ctx, device.SubscribeJob(interest), func(s *device.State) bool {
		return s.AddInterest(interest)
	})
}

func (i *Instance) Unsubscribe(ctx context.Context, interest string) error {
	return i.mutateInterests(ctx, device.UnsubscribeJob(interest), func(s *device.State) bool {
		return s.RemoveInterest(interest)
	})
}

func (i *Instance) UnsubscribeAll(ctx context.Context) error {
	return i.SetSubscriptions(ctx, nil)
}

// SetSubscriptions replaces the interest set; duplicates are dropped.
func (i *Instance) SetSubscriptions(ctx context.Context, interests []string) error {
	job := device.SetSubscriptionsJob(interests)
	return i.mutateInterests(ctx, job, func(s *device.State) bool {
		return s.ReplaceInterests(job.Interests)
	})
}

// Subscriptions returns the local interest set, sorted.
func (i *Instance) Subscriptions(ctx context.Context) ([]string, error) {
	st, err := i.state.Get(ctx)
	if err != nil {
		return nil, err
	}
	return st.SubscriptionsCopy(), nil
}

func (i *Instance) mutateInterests(ctx context.Context, job device.Job, apply func(*device.State) bool) error {
	i.mu.Lock()
	var changed bool
	st, err := i.state.Update(ctx, func(s *device.State) (bool, error) {
		changed = apply(s)
		return changed, nil
	})
	if err == nil && changed {
		err = i.sync.Enqueue(ctx, job)
	}
	i.mu.Unlock()

	if err != nil {
		return err
	}
	if changed {
		i.notifyInterests(st.SubscriptionsCopy())
	}
	return nil
}

// SetUserID binds the device to userID. The token exchange happens in the
// background; callback, if given, receives nil or a *CallbackError.
func (i *Instance) SetUserID(ctx context.Context, userID string, provider auth.TokenProvider, callback func(error)) error {
	if userID == "" {
		return ErrUserIDEmpty
	}
	if provider == nil {
		return ErrTokenProviderMissing
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	st, err := i.state.Get(ctx)
	if err != nil {
		return err
	}
	if st.UserID != "" && st.UserID != userID {
		return &AlreadyRegisteredAnotherUserError{Current: st.UserID, Requested: userID}
	}

	i.userMu.Lock()
	i.tokenProvider = provider
	if callback != nil {
		i.userCallbacks[userID] = append(i.userCallbacks[userID], callback)
	}
	i.userMu.Unlock()

	return i.sync.Enqueue(ctx, device.SetUserIDJob(userID))
}

func (i *Instance) currentTokenProvider() auth.TokenProvider {
	i.userMu.Lock()
	defer i.userMu.Unlock()
	return i.tokenProvider
}

func (i *Instance) onSetUserIDResult(userID string, err error) {
	i.userMu.Lock()
	pending := i.userCallbacks[userID]
	var callback func(error)
	if len(pending) > 0 {
		callback = pending[0]
		if len(pending) == 1 {
			delete(i.userCallbacks, userID)
		} else {
			i.userCallbacks[userID] = pending[1:]
		}
	}
	i.userMu.Unlock()

	if callback != nil {
		callback(toCallbackError(err))
	}
}

// OnMessageReceived sets the listener for messages passed to HandleMessage.
func (i *Instance) OnMessageReceived(fn func(Message)) {
	i.listenersMu.Lock()
	defer i.listenersMu.Unlock()
	i.onMessage = fn
}

// OnDeviceInterestsChanged sets the listener for changes to the interest set.
func (i *Instance) OnDeviceInterestsChanged(fn func(interests []string)) {
	i.listenersMu.Lock()
	defer i.listenersMu.Unlock()
	i.onInterests = fn
}

func (i *Instance) notifyInterests(interests []string) {
	i.listenersMu.RLock()
	fn := i.onInterests
	i.listenersMu.RUnlock()
	if fn != nil {
		fn(slices.Clone(interests))
	}
}

// HandleMessage processes a message delivered by the messaging layer.
// Token validation pings are dropped.
func (i *Instance) HandleMessage(ctx context.Context, msg Message) {
	if msg.isTokenValidation() {
		i.logger.Debug("Received token validation message")
		return
	}

	if publishID, ok := msg.PublishID(); ok {
		i.report(reporting.EventDelivery, publishID)
	}

	i.listenersMu.RLock()
	fn := i.onMessage
	i.listenersMu.RUnlock()
	if fn != nil {
		fn(msg)
	}
}

// ReportOpened records that the user opened the notification of msg.
func (i *Instance) ReportOpened(ctx context.Context, msg Message) error {
	publishID, ok := msg.PublishID()
	if !ok {
		return ErrNoPublishID
	}
	i.report(reporting.EventOpen, publishID)
	return nil
}

func (i *Instance) report(eventType reporting.EventType, publishID string) {
	if !i.opts.deliveryTracking {
		return
	}
	ev := reporting.Event{Type: eventType, PublishID: publishID, Timestamp: time.Now()}
	i.wg.Add(1)
	go func() {
		defer i.wg.Done()
		if err := i.reporter.Submit(i.ctx, ev); err != nil {
			i.logger.Warn("Failed to report event", "type", eventType, "publish_id", publishID, "err", err)
		}
	}()
}

// Stop unregisters the device: local interests and user are cleared at once
// and the device is deleted on the server in the background.
func (i *Instance) Stop(ctx context.Context) error {
	i.mu.Lock()
	var hadInterests bool
	_, err := i.state.Update(ctx, func(s *device.State) (bool, error) {
		hadInterests = len(s.Interests) > 0
		s.Interests = nil
		s.UserID = ""
		s.StartHasBeenCalled = false
		return true, nil
	})
	if err == nil {
		err = i.sync.Enqueue(ctx, device.StopJob())
	}
	i.mu.Unlock()

	if err != nil {
		return fmt.Errorf("failed to stop: %w", err)
	}

	i.userMu.Lock()
	i.tokenProvider = nil
	i.userMu.Unlock()

	if hadInterests {
		i.notifyInterests([]string{})
	}
	i.logger.Info("Push notifications stopped")
	return nil
}

// ClearAllState stops and restarts, leaving a fresh device.
func (i *Instance) ClearAllState(ctx context.Context) error {
	if err := i.Stop(ctx); err != nil {
		return err
	}
	return i.Start(ctx)
}

// Flush waits until every job enqueued so far has been handled. Jobs held
// back because the device is not registered count as handled.
func (i *Instance) Flush(ctx context.Context) error {
	i.mu.Lock()
	started := i.workerStarted
	i.mu.Unlock()
	if !started {
		return errors.New("instance not started")
	}
	return i.sync.Flush(ctx)
}

// DeviceID returns the server assigned device id, empty until registered.
func (i *Instance) DeviceID(ctx context.Context) (string, error) {
	st, err := i.state.Get(ctx)
	if err != nil {
		return "", err
	}
	return st.DeviceID, nil
}

// UserID returns the bound user id, if any.
func (i *Instance) UserID(ctx context.Context) (string, error) {
	st, err := i.state.Get(ctx)
	if err != nil {
		return "", err
	}
	return st.UserID, nil
}

// RemoteDevice is the device API's record of this device.
type RemoteDevice struct {
	ID        string
	UserID    string
	Interests []string
	Metadata  device.Metadata
}

// FetchRemoteDevice reads the device back from the device API without
// retrying. Jobs still queued locally are not reflected until they sync.
func (i *Instance) FetchRemoteDevice(ctx context.Context) (*RemoteDevice, error) {
	st, err := i.state.Get(ctx)
	if err != nil {
		return nil, err
	}
	if st.DeviceID == "" {
		return nil, ErrNotRegistered
	}
	resp, err := i.client.GetDevice(ctx, st.DeviceID, api.NoRetry)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch device %s: %w", st.DeviceID, err)
	}
	return &RemoteDevice{
		ID:        resp.ID,
		UserID:    resp.UserID,
		Interests: device.NormalizeInterests(resp.Interests),
		Metadata:  resp.Metadata,
	}, nil
}

// Close stops the sync worker and releases the state database. Queued jobs
// remain persisted for the next run.
func (i *Instance) Close() error {
	i.sync.Close()
	i.cancel()
	i.wg.Wait()
	if i.db != nil {
		return i.db.Close()
	}
	return nil
}
