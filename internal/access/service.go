// Package access runs batched attribute reads, writes and method calls
// against COSEM objects and turns each outcome into a per-attribute result.
package access

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"cosem-go/internal/cosem"
	"cosem-go/internal/dlms"
)

// AttributeResult is the outcome of one attribute access.
type AttributeResult struct {
	Index   int               `json:"index"`
	Name    string            `json:"name,omitempty"`
	Type    dlms.DataType     `json:"type"`
	Value   dlms.Value        `json:"-"`
	Encoded []byte            `json:"encoded,omitempty"`
	Result  dlms.AccessResult `json:"result"`
	Err     error             `json:"-"`
}

// OK reports whether the access succeeded.
func (r AttributeResult) OK() bool { return r.Err == nil }

// Fetcher returns the tagged wire bytes of one attribute of a remote object.
type Fetcher interface {
	Fetch(ctx context.Context, id cosem.Identity, index int) ([]byte, error)
}

// Service applies access requests to objects. It holds the session settings
// passed to every object call. Calls on the same object are serialised, so
// tracker selection and multi-step methods never interleave; events are
// emitted after the object is released.
type Service struct {
	settings *cosem.Settings
	events   *EventBus
	logger   *slog.Logger
	locks    sync.Map // cosem.Object -> *sync.Mutex
}

// NewService creates a service. events may be nil.
func NewService(settings *cosem.Settings, events *EventBus, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		settings: settings,
		events:   events,
		logger:   logger.With("component", "access"),
	}
}

// Settings returns the session settings.
func (s *Service) Settings() *cosem.Settings { return s.settings }

func (s *Service) lock(obj cosem.Object) func() {
	m, _ := s.locks.LoadOrStore(obj, &sync.Mutex{})
	mu := m.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Locked runs fn while holding obj's access lock, for callers that look at
// several attributes at once. fn must not call back into the service for obj.
func (s *Service) Locked(obj cosem.Object, fn func()) {
	unlock := s.lock(obj)
	defer unlock()
	fn()
}

func (s *Service) emitResults(typ string, obj cosem.Object, results []AttributeResult) {
	for _, r := range results {
		if r.OK() {
			s.emit(typ, obj, r.Index, r.Value)
		}
	}
}

func (s *Service) emit(typ string, obj cosem.Object, index int, v dlms.Value) {
	id := obj.Identity()
	s.events.Emit(Event{
		Type:        typ,
		ClassID:     id.ClassID,
		LogicalName: id.LogicalName,
		Index:       index,
		Value:       v,
	})
}

// Read gets and encodes each requested attribute. Every index gets its own
// result; a failing index never affects the others. Successful reads are
// recorded in the object's tracker.
func (s *Service) Read(obj cosem.Object, indices []int) []AttributeResult {
	unlock := s.lock(obj)
	results := s.read(obj, indices)
	unlock()
	s.emitResults(EventAttributeRead, obj, results)
	return results
}

// ReadPending reads the attributes the tracker selects.
func (s *Service) ReadPending(obj cosem.Object, includeAll bool) []AttributeResult {
	unlock := s.lock(obj)
	results := s.read(obj, obj.AttributesToRead(includeAll))
	unlock()
	s.emitResults(EventAttributeRead, obj, results)
	return results
}

func (s *Service) read(obj cosem.Object, indices []int) []AttributeResult {
	results := make([]AttributeResult, 0, len(indices))
	for _, index := range indices {
		r := s.readOne(obj, index)
		r.Result = ResultOf(r.Err)
		if r.Err != nil {
			s.logger.Debug("attribute read failed", "ln", obj.Identity().LogicalName, "index", index, "err", r.Err)
		}
		results = append(results, r)
	}
	return results
}

func (s *Service) readOne(obj cosem.Object, index int) AttributeResult {
	r := AttributeResult{Index: index}
	d, err := obj.Descriptor(index)
	if err != nil {
		r.Err = err
		return r
	}
	r.Name, r.Type = d.Name, d.Type
	if index != 1 && !d.Access.CanRead() {
		r.Err = fmt.Errorf("%w: attribute %d (%s) is not readable", dlms.ErrReadWriteDenied, index, d.Name)
		return r
	}
	v, err := obj.GetValue(s.settings, index)
	if err != nil {
		r.Err = err
		return r
	}
	encoded, err := dlms.EncodeAs(v, d.Type)
	if err != nil {
		r.Err = fmt.Errorf("encode attribute %d: %w", index, err)
		return r
	}
	if err := obj.Tracker().MarkRead(index); err != nil {
		r.Err = err
		return r
	}
	r.Value, r.Encoded = v, encoded
	return r
}

// Write decodes tagged wire bytes and stores them in attribute index. The
// value is converted to the attribute's display type before SetValue.
func (s *Service) Write(obj cosem.Object, index int, data []byte) AttributeResult {
	unlock := s.lock(obj)
	r := s.write(obj, index, func(d cosem.AttributeDescriptor) (dlms.Value, error) {
		v, _, err := dlms.DecodeAs(data, d.Display)
		return v, err
	})
	unlock()
	return s.written(obj, r)
}

// WriteValue stores v in attribute index.
func (s *Service) WriteValue(obj cosem.Object, index int, v dlms.Value) AttributeResult {
	unlock := s.lock(obj)
	r := s.write(obj, index, func(cosem.AttributeDescriptor) (dlms.Value, error) { return v, nil })
	unlock()
	return s.written(obj, r)
}

func (s *Service) write(obj cosem.Object, index int, value func(cosem.AttributeDescriptor) (dlms.Value, error)) AttributeResult {
	r := AttributeResult{Index: index}
	d, err := obj.Descriptor(index)
	if err != nil {
		r.Err = err
		return r
	}
	r.Name, r.Type = d.Name, d.Type
	v, err := value(d)
	if err != nil {
		r.Err = err
		return r
	}
	if !d.Access.CanWrite() {
		r.Err = fmt.Errorf("%w: attribute %d (%s) is not writable", dlms.ErrReadWriteDenied, index, d.Name)
		return r
	}
	if err := obj.SetValue(s.settings, index, v); err != nil {
		r.Err = err
		return r
	}
	r.Value = v
	return r
}

func (s *Service) written(obj cosem.Object, r AttributeResult) AttributeResult {
	r.Result = ResultOf(r.Err)
	if r.OK() {
		s.emit(EventAttributeWritten, obj, r.Index, r.Value)
	}
	return r
}

// Invoke calls method index with params.
func (s *Service) Invoke(obj cosem.Object, index int, params dlms.Value) (dlms.Value, error) {
	unlock := s.lock(obj)
	v, err := obj.Invoke(s.settings, index, params)
	unlock()
	if err != nil {
		return dlms.Value{}, fmt.Errorf("invoke method %d: %w", index, err)
	}
	s.emit(EventMethodInvoked, obj, index, v)
	return v, nil
}

// Refresh runs one client read pass: every attribute the tracker selects is
// fetched, decoded with its display type, stored and marked read, in
// ascending index order. A failing attribute is reported and the pass goes
// on; only a cancelled context stops it early.
func (s *Service) Refresh(ctx context.Context, obj cosem.Object, f Fetcher, includeAll bool) ([]AttributeResult, error) {
	unlock := s.lock(obj)
	results, err := s.refresh(ctx, obj, f, includeAll)
	unlock()
	s.emitResults(EventAttributeRead, obj, results)
	return results, err
}

func (s *Service) refresh(ctx context.Context, obj cosem.Object, f Fetcher, includeAll bool) ([]AttributeResult, error) {
	indices := obj.AttributesToRead(includeAll)
	results := make([]AttributeResult, 0, len(indices))
	for _, index := range indices {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		r := s.refreshOne(ctx, obj, f, index)
		r.Result = ResultOf(r.Err)
		results = append(results, r)
	}
	return results, nil
}

func (s *Service) refreshOne(ctx context.Context, obj cosem.Object, f Fetcher, index int) AttributeResult {
	r := AttributeResult{Index: index}
	d, err := obj.Descriptor(index)
	if err != nil {
		r.Err = err
		return r
	}
	r.Name, r.Type = d.Name, d.Type
	data, err := f.Fetch(ctx, obj.Identity(), index)
	if err != nil {
		r.Err = fmt.Errorf("fetch attribute %d: %w", index, err)
		return r
	}
	v, _, err := dlms.DecodeAs(data, d.Display)
	if err != nil {
		r.Err = err
		return r
	}
	if err := obj.SetValue(s.settings, index, v); err != nil {
		r.Err = err
		return r
	}
	if err := obj.Tracker().MarkRead(index); err != nil {
		r.Err = err
		return r
	}
	r.Value, r.Encoded = v, data
	return r
}
