package emulator

import (
	"testing"
	"time"

	"cloud.google.com/go/firestore/apiv1/firestorepb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const docName = "projects/p/databases/(default)/documents/c/doc"

func intVal(v int64) *firestorepb.Value {
	return &firestorepb.Value{ValueType: &firestorepb.Value_IntegerValue{IntegerValue: v}}
}

func boolPtr(b bool) *bool { return &b }

func TestStore_ApplyCreateAndReplace(t *testing.T) {
	s := newStore()
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return t0 }

	_, results, err := s.apply([]mutation{{
		name:   docName,
		update: &firestorepb.Document{Fields: map[string]*firestorepb.Value{"a": intVal(1), "b": intVal(2)}},
	}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, docName, results[0].Name)
	assert.Equal(t, t0, results[0].CreateTime.AsTime())

	t1 := t0.Add(time.Second)
	s.now = func() time.Time { return t1 }
	_, _, err = s.apply([]mutation{{
		name:   docName,
		update: &firestorepb.Document{Fields: map[string]*firestorepb.Value{"a": intVal(5)}},
	}})
	require.NoError(t, err)

	doc, ok := s.get(docName)
	require.True(t, ok)
	assert.Len(t, doc.Fields, 1)
	assert.Equal(t, int64(5), doc.Fields["a"].GetIntegerValue())
	assert.Equal(t, t0, doc.CreateTime.AsTime())
	assert.Equal(t, t1, doc.UpdateTime.AsTime())
}

func TestStore_ApplyMask(t *testing.T) {
	s := newStore()
	_, _, err := s.apply([]mutation{{
		name:   docName,
		update: &firestorepb.Document{Fields: map[string]*firestorepb.Value{"a": intVal(1), "b": intVal(2)}},
	}})
	require.NoError(t, err)

	_, _, err = s.apply([]mutation{{
		name:   docName,
		update: &firestorepb.Document{Fields: map[string]*firestorepb.Value{"a": intVal(9)}},
		mask:   []string{"a", "b"},
	}})
	require.NoError(t, err)

	doc, _ := s.get(docName)
	assert.Equal(t, int64(9), doc.Fields["a"].GetIntegerValue())
	assert.NotContains(t, doc.Fields, "b")
}

func TestStore_Preconditions(t *testing.T) {
	s := newStore()

	_, _, err := s.apply([]mutation{{name: docName, update: &firestorepb.Document{}, exists: boolPtr(true)}})
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, _, err = s.apply([]mutation{{name: docName, update: &firestorepb.Document{}, exists: boolPtr(false)}})
	require.NoError(t, err)

	_, _, err = s.apply([]mutation{{name: docName, update: &firestorepb.Document{}, exists: boolPtr(false)}})
	assert.Equal(t, codes.AlreadyExists, status.Code(err))
}

func TestStore_AtomicFailure(t *testing.T) {
	s := newStore()
	other := "projects/p/databases/(default)/documents/c/other"

	_, _, err := s.apply([]mutation{
		{name: other, update: &firestorepb.Document{}},
		{name: docName, update: &firestorepb.Document{}, exists: boolPtr(true)},
	})
	assert.Error(t, err)
	assert.Zero(t, s.len())
}

func TestStore_NotifyInOrder(t *testing.T) {
	s := newStore()
	events := make(chan event, 8)
	sub := &subscription{targetID: 3, name: docName, events: events, overflow: func() { t.Fatal("overflow") }}
	assert.Nil(t, s.subscribe(sub))

	_, _, err := s.apply([]mutation{
		{name: docName, update: &firestorepb.Document{Fields: map[string]*firestorepb.Value{"v": intVal(1)}}},
		{name: docName, update: &firestorepb.Document{Fields: map[string]*firestorepb.Value{"v": intVal(2)}}},
		{name: docName},
		{name: docName}, // deleting a missing document is silent
	})
	require.NoError(t, err)

	require.Len(t, events, 3)
	first, second, third := <-events, <-events, <-events
	assert.Equal(t, int64(1), first.doc.Fields["v"].GetIntegerValue())
	assert.Equal(t, int64(2), second.doc.Fields["v"].GetIntegerValue())
	assert.Nil(t, third.doc)
	assert.Equal(t, int32(3), third.targetID)

	s.unsubscribe(sub)
	assert.Zero(t, s.subscribers())
}

func TestStore_Overflow(t *testing.T) {
	s := newStore()
	overflowed := 0
	sub := &subscription{name: docName, events: make(chan event), overflow: func() { overflowed++ }}
	s.subscribe(sub)

	_, _, err := s.apply([]mutation{{name: docName, update: &firestorepb.Document{}}})
	require.NoError(t, err)
	assert.Equal(t, 1, overflowed)
}
