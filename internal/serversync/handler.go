// Package serversync keeps the device API in step with local device state.
//
// Every change the SDK makes locally is recorded as a device.Job in a durable
// queue and handed to a single worker goroutine, which replays it against the
// device API in order. Jobs queued while the device has no server-side id are
// held back until a Start job registers it.
package serversync

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"slices"
	"sync"
	"time"

	"github.com/tinywideclouds/go-pushnotifications/internal/api"
	"github.com/tinywideclouds/go-pushnotifications/internal/state"
	"github.com/tinywideclouds/go-pushnotifications/pkg/auth"
	"github.com/tinywideclouds/go-pushnotifications/pkg/device"
)

// DeviceAPI is the subset of the device API client the worker drives.
type DeviceAPI interface {
	RegisterFCM(ctx context.Context, token string, knownPreviousClientIDs []string, md device.Metadata, retry api.RetryStrategy) (*api.RegisterResponse, error)
	RefreshToken(ctx context.Context, deviceID, token string, retry api.RetryStrategy) error
	Subscribe(ctx context.Context, deviceID, interest string, retry api.RetryStrategy) error
	Unsubscribe(ctx context.Context, deviceID, interest string, retry api.RetryStrategy) error
	SetSubscriptions(ctx context.Context, deviceID string, interests []string, retry api.RetryStrategy) error
	SetMetadata(ctx context.Context, deviceID string, md device.Metadata, retry api.RetryStrategy) error
	SetUserID(ctx context.Context, deviceID, jwt string, retry api.RetryStrategy) error
	Delete(ctx context.Context, deviceID string, retry api.RetryStrategy) error
}

// Events are invoked on the worker goroutine.
type Events struct {
	// InterestsChanged fires when registration changes the local interest set.
	InterestsChanged func(interests []string)

	// SetUserIDResult fires once per processed SetUserID job; err is nil on
	// success and a *UserIDError otherwise.
	SetUserIDResult func(userID string, err error)
}

type Config struct {
	Retry                api.RetryStrategy
	TokenProviderTimeout time.Duration
	Metadata             device.Metadata
}

const DefaultTokenProviderTimeout = 60 * time.Second

// DefaultMetadata describes this SDK build on the current platform.
func DefaultMetadata(sdkVersion string) device.Metadata {
	return device.Metadata{SDKVersion: sdkVersion, OSVersion: runtime.GOOS + "/" + runtime.GOARCH}
}

type mail struct {
	job      *device.Job
	replayed bool
	flushed  chan struct{}
}

type Handler struct {
	api           DeviceAPI
	state         *state.Store
	queue         device.JobQueue
	tokenProvider func() auth.TokenProvider
	events        Events
	cfg           Config
	logger        *slog.Logger

	mu      sync.Mutex
	mailbox []mail
	wake    chan struct{}
	cancel  context.CancelFunc
	done    chan struct{}
}

// New builds a handler. tokenProvider returns the provider most recently
// handed to SetUserID and may return nil.
func New(
	deviceAPI DeviceAPI,
	st *state.Store,
	queue device.JobQueue,
	tokenProvider func() auth.TokenProvider,
	events Events,
	cfg Config,
	logger *slog.Logger,
) *Handler {
	if cfg.Retry == nil {
		cfg.Retry = api.RetryForever
	}
	if cfg.TokenProviderTimeout <= 0 {
		cfg.TokenProviderTimeout = DefaultTokenProviderTimeout
	}
	if tokenProvider == nil {
		tokenProvider = func() auth.TokenProvider { return nil }
	}
	return &Handler{
		api:           deviceAPI,
		state:         st,
		queue:         queue,
		tokenProvider: tokenProvider,
		events:        events,
		cfg:           cfg,
		logger:        logger.With("component", "server-sync"),
		wake:          make(chan struct{}, 1),
	}
}

// Start replays the persisted queue into the mailbox and launches the worker.
// The worker runs until ctx ends or Close is called.
func (h *Handler) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.done != nil {
		return nil
	}

	jobs, err := h.queue.List(ctx)
	if err != nil {
		return err
	}
	// jobs enqueued before Start are already part of the persisted queue,
	// at its tail
	enqueued := 0
	for _, m := range h.mailbox {
		if m.job != nil {
			enqueued++
		}
	}
	fromPreviousRun := max(len(jobs)-enqueued, 0)
	replayed := make([]mail, 0, len(jobs)+len(h.mailbox))
	for i := range jobs {
		replayed = append(replayed, mail{job: &jobs[i], replayed: i < fromPreviousRun})
	}
	for _, m := range h.mailbox {
		if m.flushed != nil {
			replayed = append(replayed, m)
		}
	}
	h.mailbox = replayed
	if fromPreviousRun > 0 {
		h.logger.Info("Replaying persisted jobs", "count", fromPreviousRun)
	}

	runCtx, cancel := context.WithCancel(ctx)
	h.cancel = cancel
	h.done = make(chan struct{})
	go h.run(runCtx)
	h.signal()
	return nil
}

// Close stops the worker and waits for the job in flight to return.
func (h *Handler) Close() {
	h.mu.Lock()
	cancel, done := h.cancel, h.done
	h.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Enqueue persists job and schedules it.
func (h *Handler) Enqueue(ctx context.Context, job device.Job) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.queue.Push(ctx, job); err != nil {
		return err
	}
	h.mailbox = append(h.mailbox, mail{job: &job})
	h.signal()
	return nil
}

// Flush returns once every job enqueued before the call has been handled.
func (h *Handler) Flush(ctx context.Context) error {
	ch := make(chan struct{})
	h.mu.Lock()
	h.mailbox = append(h.mailbox, mail{flushed: ch})
	h.signal()
	h.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PendingLifecycle is the most recent Start or Stop job still queued.
type PendingLifecycle int

const (
	PendingNone PendingLifecycle = iota
	PendingStart
	PendingStop
)

// PendingLifecycle reports whether the queue will end with the device
// registered (PendingStart), deleted (PendingStop) or as it is now.
func (h *Handler) PendingLifecycle(ctx context.Context) (PendingLifecycle, error) {
	jobs, err := h.queue.List(ctx)
	if err != nil {
		return PendingNone, err
	}
	pending := PendingNone
	for _, j := range jobs {
		switch j.Type {
		case device.JobStart:
			pending = PendingStart
		case device.JobStop:
			pending = PendingStop
		}
	}
	return pending, nil
}

func (h *Handler) signal() {
	select {
	case h.wake <- struct{}{}:
	default:
	}
}

func (h *Handler) run(ctx context.Context) {
	defer close(h.done)
	for {
		m, ok := h.next(ctx)
		if !ok {
			return
		}
		if m.flushed != nil {
			close(m.flushed)
			continue
		}
		h.handle(ctx, *m.job, m.replayed)
	}
}

func (h *Handler) next(ctx context.Context) (mail, bool) {
	for {
		h.mu.Lock()
		if len(h.mailbox) > 0 {
			m := h.mailbox[0]
			h.mailbox = h.mailbox[1:]
			h.mu.Unlock()
			return m, true
		}
		h.mu.Unlock()

		select {
		case <-h.wake:
		case <-ctx.Done():
			return mail{}, false
		}
	}
}

func (h *Handler) handle(ctx context.Context, job device.Job, replayed bool) {
	st, err := h.state.Get(ctx)
	if err != nil {
		h.logger.Error("Failed to read device state", "job", job.Type, "err", err)
		return
	}

	if !st.Registered() && job.Type != device.JobStart {
		h.logger.Debug("Device not registered yet, holding job", "job", job.Type)
		return
	}

	// the provider and callback of a previous run are gone
	if replayed && job.Type == device.JobSetUserID {
		h.logger.Info("Dropping set user id job from a previous run", "user_id", job.UserID)
		h.pop(ctx)
		return
	}

	switch job.Type {
	case device.JobStart:
		h.processStart(ctx, job)
		return
	case device.JobStop:
		h.processStop(ctx, st)
	default:
		h.processJob(ctx, job)
	}
	// an interrupted job stays queued for the next run
	if ctx.Err() == nil {
		h.pop(ctx)
	}
}

func (h *Handler) pop(ctx context.Context) {
	if err := h.queue.Pop(ctx); err != nil {
		h.logger.Error("Failed to pop job", "err", err)
	}
}

// processJob runs a job, recreating the device once if the server lost it.
func (h *Handler) processJob(ctx context.Context, job device.Job) {
	err := h.runJob(ctx, job)
	if api.IsDeviceNotFound(err) {
		h.logger.Warn("Device not found on server, recreating", "job", job.Type)
		if rerr := h.recreateDevice(ctx); rerr != nil {
			h.logger.Error("Failed to recreate device", "err", rerr)
			return
		}
		err = h.runJob(ctx, job)
	}

	switch {
	case err == nil:
	case api.IsBadRequest(err):
		h.logger.Error("Device API rejected job, skipping", "job", job.Type, "err", err)
	case errors.Is(err, context.Canceled):
	default:
		h.logger.Error("Job failed", "job", job.Type, "err", err)
	}
}

func (h *Handler) runJob(ctx context.Context, job device.Job) error {
	st, err := h.state.Get(ctx)
	if err != nil {
		return err
	}

	switch job.Type {
	case device.JobSubscribe:
		return h.api.Subscribe(ctx, st.DeviceID, job.Interest, h.cfg.Retry)

	case device.JobUnsubscribe:
		return h.api.Unsubscribe(ctx, st.DeviceID, job.Interest, h.cfg.Retry)

	case device.JobSetSubscriptions:
		if err := h.api.SetSubscriptions(ctx, st.DeviceID, job.Interests, h.cfg.Retry); err != nil {
			return err
		}
		return h.confirmInterests(ctx, job.Interests)

	case device.JobRefreshToken:
		if job.Token == "" || job.Token == st.DeviceToken {
			return nil
		}
		if err := h.api.RefreshToken(ctx, st.DeviceID, job.Token, h.cfg.Retry); err != nil {
			return err
		}
		_, err := h.state.Update(ctx, func(s *device.State) (bool, error) {
			s.DeviceToken = job.Token
			return true, nil
		})
		return err

	case device.JobApplicationStart:
		h.processApplicationStart(ctx, job, st)
		return nil

	case device.JobSetUserID:
		h.processSetUserID(ctx, job.UserID)
		return nil

	default:
		h.logger.Warn("Unknown job type, skipping", "job", job.Type)
		return nil
	}
}

func (h *Handler) confirmInterests(ctx context.Context, interests []string) error {
	hash := device.InterestsHash(interests)
	_, err := h.state.Update(ctx, func(s *device.State) (bool, error) {
		if s.ServerConfirmedInterestsHash == hash {
			return false, nil
		}
		s.ServerConfirmedInterestsHash = hash
		return true, nil
	})
	return err
}

// processApplicationStart is best effort: a single attempt, failures logged.
func (h *Handler) processApplicationStart(ctx context.Context, job device.Job, st device.State) {
	md := h.cfg.Metadata
	if job.Metadata != nil {
		md = *job.Metadata
	}

	if md.SDKVersion != st.SDKVersion || md.OSVersion != st.OSVersion {
		if err := h.api.SetMetadata(ctx, st.DeviceID, md, api.NoRetry); err != nil {
			h.logger.Warn("Failed to update device metadata", "err", err)
		} else if _, err := h.state.Update(ctx, func(s *device.State) (bool, error) {
			s.SDKVersion, s.OSVersion = md.SDKVersion, md.OSVersion
			return true, nil
		}); err != nil {
			h.logger.Error("Failed to save device metadata", "err", err)
		}
	}

	if device.InterestsHash(st.Interests) != st.ServerConfirmedInterestsHash {
		if err := h.api.SetSubscriptions(ctx, st.DeviceID, st.Interests, api.NoRetry); err != nil {
			h.logger.Warn("Failed to resync interests", "err", err)
			return
		}
		if err := h.confirmInterests(ctx, st.Interests); err != nil {
			h.logger.Error("Failed to save interests hash", "err", err)
		}
	}
}

func (h *Handler) processStart(ctx context.Context, job device.Job) {
	resp, err := h.api.RegisterFCM(ctx, job.Token, job.KnownPreviousClientIDs, h.cfg.Metadata, h.cfg.Retry)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		h.logger.Error("Device registration failed, dropping start job", "err", err)
		h.popThroughStart(ctx)
		return
	}

	queued, err := h.queue.List(ctx)
	if err != nil {
		h.logger.Error("Failed to read job queue", "err", err)
		return
	}

	initial := device.NormalizeInterests(resp.InitialInterestSet)
	interests := initial
	var outstanding []device.Job
	rest := len(queued)
	for i, j := range queued {
		if j.Type == device.JobStart {
			rest = i + 1
			break
		}
		switch j.Type {
		case device.JobStop:
			interests = initial
			outstanding = nil
		case device.JobSetUserID, device.JobRefreshToken:
			outstanding = append(outstanding, j)
		default:
			interests = applyInterestJob(interests, j)
		}
	}

	// jobs queued behind the Start job were already applied locally and
	// reach the server on their own
	local := interests
	for _, j := range queued[rest:] {
		if j.Type == device.JobStop {
			local = []string{}
			continue
		}
		local = applyInterestJob(local, j)
	}

	var localChanged bool
	_, err = h.state.Update(ctx, func(s *device.State) (bool, error) {
		localChanged = !slices.Equal(device.NormalizeInterests(s.Interests), local)
		s.DeviceID = resp.ID
		s.DeviceToken = job.Token
		s.Interests = local
		s.SDKVersion = h.cfg.Metadata.SDKVersion
		s.OSVersion = h.cfg.Metadata.OSVersion
		return true, nil
	})
	if err != nil {
		h.logger.Error("Failed to save registration", "err", err)
		return
	}
	h.logger.Info("Device registered", "device_id", resp.ID, "interests", len(local))

	if localChanged && h.events.InterestsChanged != nil {
		h.events.InterestsChanged(slices.Clone(local))
	}

	if slices.Equal(interests, initial) {
		if err := h.confirmInterests(ctx, interests); err != nil {
			h.logger.Error("Failed to save interests hash", "err", err)
		}
	} else {
		h.processJob(ctx, device.SetSubscriptionsJob(interests))
	}

	for _, j := range outstanding {
		h.processJob(ctx, j)
	}

	h.popThroughStart(ctx)
}

// applyInterestJob folds a Subscribe, Unsubscribe or SetSubscriptions job
// into interests. Other jobs leave it unchanged.
func applyInterestJob(interests []string, j device.Job) []string {
	switch j.Type {
	case device.JobSubscribe:
		if !slices.Contains(interests, j.Interest) {
			return device.NormalizeInterests(append(slices.Clone(interests), j.Interest))
		}
	case device.JobUnsubscribe:
		return slices.DeleteFunc(slices.Clone(interests), func(s string) bool { return s == j.Interest })
	case device.JobSetSubscriptions:
		return device.NormalizeInterests(j.Interests)
	}
	return interests
}

// popThroughStart drops every job up to and including the first Start job.
func (h *Handler) popThroughStart(ctx context.Context) {
	for {
		head, err := h.queue.Peek(ctx)
		if err != nil {
			h.logger.Error("Failed to peek job queue", "err", err)
			return
		}
		if head == nil {
			return
		}
		h.pop(ctx)
		if head.Type == device.JobStart {
			return
		}
	}
}

func (h *Handler) processStop(ctx context.Context, st device.State) {
	err := h.api.Delete(ctx, st.DeviceID, h.cfg.Retry)
	if err != nil && !api.IsDeviceNotFound(err) {
		h.logger.Error("Failed to delete device", "device_id", st.DeviceID, "err", err)
	}

	_, err = h.state.Update(ctx, func(s *device.State) (bool, error) {
		s.DeviceID = ""
		s.DeviceToken = ""
		s.UserID = ""
		s.SDKVersion = ""
		s.OSVersion = ""
		s.ServerConfirmedInterestsHash = ""
		return true, nil
	})
	if err != nil {
		h.logger.Error("Failed to clear device state", "err", err)
		return
	}
	h.logger.Info("Device stopped", "device_id", st.DeviceID)
}

// recreateDevice registers a replacement for a device the server deleted and
// restores its interests and user.
func (h *Handler) recreateDevice(ctx context.Context) error {
	st, err := h.state.Get(ctx)
	if err != nil {
		return err
	}

	var known []string
	if st.DeviceID != "" {
		known = []string{st.DeviceID}
	}
	resp, err := h.api.RegisterFCM(ctx, st.DeviceToken, known, h.cfg.Metadata, h.cfg.Retry)
	if err != nil {
		return err
	}
	if _, err := h.state.Update(ctx, func(s *device.State) (bool, error) {
		s.DeviceID = resp.ID
		return true, nil
	}); err != nil {
		return err
	}

	if !slices.Equal(device.NormalizeInterests(st.Interests), device.NormalizeInterests(resp.InitialInterestSet)) {
		if err := h.api.SetSubscriptions(ctx, resp.ID, st.Interests, h.cfg.Retry); err != nil {
			return err
		}
	}
	if err := h.confirmInterests(ctx, st.Interests); err != nil {
		return err
	}

	if st.UserID == "" {
		return nil
	}
	if err := h.associateUser(ctx, resp.ID, st.UserID); err != nil {
		h.logger.Warn("Could not restore user on recreated device, clearing it", "err", err)
		_, err = h.state.Update(ctx, func(s *device.State) (bool, error) {
			s.UserID = ""
			return true, nil
		})
		return err
	}
	return nil
}
