package emulator

import (
	"sync"
	"time"

	"cloud.google.com/go/firestore/apiv1/firestorepb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// event is one change delivered to a Listen stream. doc is nil for a
// deletion.
type event struct {
	targetID int32
	name     string
	doc      *firestorepb.Document
}

// subscription routes changes of one document to one stream target.
type subscription struct {
	targetID int32
	name     string
	events   chan<- event
	overflow func()
}

// mutation is one staged write.
type mutation struct {
	name   string
	update *firestorepb.Document // nil deletes
	mask   []string              // top-level fields to touch; nil replaces
	exists *bool
}

// store is the emulator's document table. Writes and subscriptions share
// one lock, so a subscriber sees its snapshot followed by every later
// change in commit order.
type store struct {
	mu   sync.Mutex
	docs map[string]*firestorepb.Document
	subs map[string]map[*subscription]struct{}
	now  func() time.Time
}

func newStore() *store {
	return &store{
		docs: make(map[string]*firestorepb.Document),
		subs: make(map[string]map[*subscription]struct{}),
		now:  time.Now,
	}
}

func (s *store) get(name string) (*firestorepb.Document, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[name]
	if !ok {
		return nil, false
	}
	return proto.Clone(doc).(*firestorepb.Document), true
}

func (s *store) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.docs)
}

// apply validates and applies muts atomically and returns the commit time.
// The returned documents are the post-write state of each mutation, nil
// for deletes.
func (s *store) apply(muts []mutation) (time.Time, []*firestorepb.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	ts := timestamppb.New(now)

	staged := make(map[string]*firestorepb.Document)
	lookup := func(name string) *firestorepb.Document {
		if doc, ok := staged[name]; ok {
			return doc
		}
		return s.docs[name]
	}

	steps := make([]*firestorepb.Document, len(muts))
	for i, m := range muts {
		current := lookup(m.name)
		if m.exists != nil {
			switch {
			case *m.exists && current == nil:
				return time.Time{}, nil, status.Errorf(codes.NotFound, "no document to update: %s", m.name)
			case !*m.exists && current != nil:
				return time.Time{}, nil, status.Errorf(codes.AlreadyExists, "document already exists: %s", m.name)
			}
		}

		if m.update == nil {
			staged[m.name] = nil
			continue
		}

		next := &firestorepb.Document{Name: m.name, Fields: make(map[string]*firestorepb.Value), UpdateTime: ts}
		if current != nil {
			next.CreateTime = current.CreateTime
			if m.mask != nil {
				for k, v := range current.Fields {
					next.Fields[k] = v
				}
			}
		} else {
			next.CreateTime = ts
		}

		if m.mask == nil {
			for k, v := range m.update.GetFields() {
				next.Fields[k] = proto.Clone(v).(*firestorepb.Value)
			}
		} else {
			for _, field := range m.mask {
				if v, ok := m.update.GetFields()[field]; ok {
					next.Fields[field] = proto.Clone(v).(*firestorepb.Value)
				} else {
					delete(next.Fields, field)
				}
			}
		}
		staged[m.name] = next
		steps[i] = next
	}

	// Commit in mutation order so subscribers see each step.
	results := make([]*firestorepb.Document, len(muts))
	for i, m := range muts {
		doc := steps[i]
		if doc == nil {
			if _, existed := s.docs[m.name]; !existed {
				continue
			}
			delete(s.docs, m.name)
		} else {
			s.docs[m.name] = doc
			results[i] = proto.Clone(doc).(*firestorepb.Document)
		}
		s.notifyLocked(m.name, doc)
	}
	return now, results, nil
}

// subscribe registers sub and returns the current snapshot of its
// document, nil when absent.
func (s *store) subscribe(sub *subscription) *firestorepb.Document {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.subs[sub.name]
	if !ok {
		set = make(map[*subscription]struct{})
		s.subs[sub.name] = set
	}
	set[sub] = struct{}{}

	if doc, ok := s.docs[sub.name]; ok {
		return proto.Clone(doc).(*firestorepb.Document)
	}
	return nil
}

func (s *store) unsubscribe(sub *subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set := s.subs[sub.name]
	delete(set, sub)
	if len(set) == 0 {
		delete(s.subs, sub.name)
	}
}

func (s *store) subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, set := range s.subs {
		n += len(set)
	}
	return n
}

// notifyLocked never blocks: a subscriber whose buffer is full is told to
// give up instead.
func (s *store) notifyLocked(name string, doc *firestorepb.Document) {
	for sub := range s.subs[name] {
		ev := event{targetID: sub.targetID, name: name}
		if doc != nil {
			ev.doc = proto.Clone(doc).(*firestorepb.Document)
		}
		select {
		case sub.events <- ev:
		default:
			sub.overflow()
		}
	}
}
