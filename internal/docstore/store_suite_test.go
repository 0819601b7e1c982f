package docstore

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/stretchr/testify/suite"

	"sangue/pkg/platform/sentinel"
)

var (
	testPeople = CollectionSpec{Name: "people", PartitionKey: "email", UniqueKey: "email"}
	testEvents = CollectionSpec{Name: "events", PartitionKey: "status"}
)

// StoreContractSuite exercises behaviour every Store implementation shares.
// Implementation suites embed it and set store in SetupTest.
type StoreContractSuite struct {
	suite.Suite
	store Store
	ctx   context.Context
}

func (s *StoreContractSuite) ensureCollections() {
	s.Require().NoError(s.store.EnsureCollection(s.ctx, testPeople))
	s.Require().NoError(s.store.EnsureCollection(s.ctx, testEvents))
}

func (s *StoreContractSuite) TestCreate() {
	s.Run("assigns id and system fields", func() {
		doc, err := s.store.Create(s.ctx, testEvents.Name, Document{"name": "Spring drive", "status": "open"})
		s.Require().NoError(err)

		s.NotEmpty(doc.ID())
		s.NotEmpty(doc.ETag())
		for _, f := range SystemFields {
			s.True(doc.Has(f), "missing %s", f)
		}
		s.Equal("Spring drive", doc.String("name"))
	})

	s.Run("keeps a caller supplied id", func() {
		doc, err := s.store.Create(s.ctx, testEvents.Name, Document{"id": "fixed-1", "status": "open"})
		s.Require().NoError(err)
		s.Equal("fixed-1", doc.ID())
	})

	s.Run("overwrites caller supplied system fields", func() {
		doc, err := s.store.Create(s.ctx, testEvents.Name, Document{"status": "open", "_etag": "forged"})
		s.Require().NoError(err)
		s.NotEqual("forged", doc.ETag())
	})

	s.Run("rejects duplicate id", func() {
		_, err := s.store.Create(s.ctx, testEvents.Name, Document{"id": "dup", "status": "open"})
		s.Require().NoError(err)

		_, err = s.store.Create(s.ctx, testEvents.Name, Document{"id": "dup", "status": "closed"})
		s.ErrorIs(err, sentinel.ErrConflict)
		s.NotErrorIs(err, ErrUniqueKey)
	})

	s.Run("rejects duplicate unique key value", func() {
		_, err := s.store.Create(s.ctx, testPeople.Name, Document{"email": "unique@example.com"})
		s.Require().NoError(err)

		_, err = s.store.Create(s.ctx, testPeople.Name, Document{"email": "unique@example.com"})
		s.ErrorIs(err, sentinel.ErrConflict)
		s.ErrorIs(err, ErrUniqueKey)
	})

	s.Run("rejects non-string id", func() {
		_, err := s.store.Create(s.ctx, testEvents.Name, Document{"id": 42})
		s.Error(err)
	})

	s.Run("unknown collection", func() {
		_, err := s.store.Create(s.ctx, "missing", Document{})
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *StoreContractSuite) TestQuery() {
	_, err := s.store.Create(s.ctx, testPeople.Name, Document{"email": "a@example.com", "age": 30, "tags": []string{"x"}})
	s.Require().NoError(err)
	_, err = s.store.Create(s.ctx, testPeople.Name, Document{"email": "b@example.com", "age": "30"})
	s.Require().NoError(err)
	_, err = s.store.Create(s.ctx, testPeople.Name, Document{"email": "c@example.com"})
	s.Require().NoError(err)

	s.Run("read all preserves insertion order", func() {
		docs, err := s.store.ReadAll(s.ctx, testPeople.Name)
		s.Require().NoError(err)
		s.Require().Len(docs, 3)
		s.Equal("a@example.com", docs[0].String("email"))
		s.Equal("b@example.com", docs[1].String("email"))
		s.Equal("c@example.com", docs[2].String("email"))
	})

	s.Run("equality is case sensitive", func() {
		docs, err := s.store.Query(s.ctx, testPeople.Name, Eq("email", "A@example.com"))
		s.Require().NoError(err)
		s.Empty(docs)
	})

	s.Run("equality is type strict", func() {
		docs, err := s.store.Query(s.ctx, testPeople.Name, Eq("age", 30))
		s.Require().NoError(err)
		s.Require().Len(docs, 1)
		s.Equal("a@example.com", docs[0].String("email"))

		docs, err = s.store.Query(s.ctx, testPeople.Name, Eq("age", "30"))
		s.Require().NoError(err)
		s.Require().Len(docs, 1)
		s.Equal("b@example.com", docs[0].String("email"))
	})

	s.Run("absent field never matches", func() {
		docs, err := s.store.Query(s.ctx, testPeople.Name, Eq("nickname", "x"))
		s.Require().NoError(err)
		s.Empty(docs)
	})

	s.Run("empty collection returns empty slice", func() {
		docs, err := s.store.ReadAll(s.ctx, testEvents.Name)
		s.Require().NoError(err)
		s.NotNil(docs)
		s.Empty(docs)
	})

	s.Run("unknown collection", func() {
		_, err := s.store.Query(s.ctx, "missing", Eq("x", 1))
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *StoreContractSuite) TestReplace() {
	s.Run("replaces whole document and rotates etag", func() {
		created, err := s.store.Create(s.ctx, testEvents.Name, Document{"status": "open", "name": "old", "extra": true})
		s.Require().NoError(err)

		replaced, err := s.store.Replace(s.ctx, testEvents.Name, created.ID(), Document{"status": "open", "name": "new"})
		s.Require().NoError(err)
		s.Equal("new", replaced.String("name"))
		s.False(replaced.Has("extra"))
		s.NotEqual(created.ETag(), replaced.ETag())
		s.Equal(created[FieldRID], replaced[FieldRID])

		docs, err := s.store.Query(s.ctx, testEvents.Name, Eq("id", created.ID()))
		s.Require().NoError(err)
		s.Require().Len(docs, 1)
		s.Equal("new", docs[0].String("name"))
	})

	s.Run("conditional replace with current etag", func() {
		created, err := s.store.Create(s.ctx, testEvents.Name, Document{"status": "open"})
		s.Require().NoError(err)

		next := created.Clone()
		next["name"] = "renamed"
		_, err = s.store.Replace(s.ctx, testEvents.Name, created.ID(), next)
		s.NoError(err)
	})

	s.Run("conditional replace with stale etag", func() {
		created, err := s.store.Create(s.ctx, testEvents.Name, Document{"status": "open"})
		s.Require().NoError(err)
		_, err = s.store.Replace(s.ctx, testEvents.Name, created.ID(), Document{"status": "open", "v": 2})
		s.Require().NoError(err)

		stale := created.Clone()
		stale["v"] = 3
		_, err = s.store.Replace(s.ctx, testEvents.Name, created.ID(), stale)
		s.ErrorIs(err, sentinel.ErrPreconditionFailed)
	})

	s.Run("missing document", func() {
		_, err := s.store.Replace(s.ctx, testEvents.Name, "nope", Document{"status": "open"})
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("unique key moves with the document", func() {
		created, err := s.store.Create(s.ctx, testPeople.Name, Document{"email": "before@example.com"})
		s.Require().NoError(err)
		_, err = s.store.Replace(s.ctx, testPeople.Name, created.ID(), Document{"email": "after@example.com"})
		s.Require().NoError(err)

		_, err = s.store.Create(s.ctx, testPeople.Name, Document{"email": "before@example.com"})
		s.NoError(err)
		_, err = s.store.Create(s.ctx, testPeople.Name, Document{"email": "after@example.com"})
		s.ErrorIs(err, sentinel.ErrConflict)
	})
}

func (s *StoreContractSuite) TestDelete() {
	s.Run("removes the addressed document", func() {
		created, err := s.store.Create(s.ctx, testEvents.Name, Document{"status": "open"})
		s.Require().NoError(err)

		s.Require().NoError(s.store.Delete(s.ctx, testEvents.Name, created.ID(), "open"))

		docs, err := s.store.Query(s.ctx, testEvents.Name, Eq("id", created.ID()))
		s.Require().NoError(err)
		s.Empty(docs)
	})

	s.Run("partition mismatch is not found", func() {
		created, err := s.store.Create(s.ctx, testEvents.Name, Document{"status": "open"})
		s.Require().NoError(err)

		err = s.store.Delete(s.ctx, testEvents.Name, created.ID(), "closed")
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("missing document is not found", func() {
		err := s.store.Delete(s.ctx, testEvents.Name, "nope", "open")
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("frees the unique key value", func() {
		created, err := s.store.Create(s.ctx, testPeople.Name, Document{"email": "gone@example.com"})
		s.Require().NoError(err)
		s.Require().NoError(s.store.Delete(s.ctx, testPeople.Name, created.ID(), "gone@example.com"))

		_, err = s.store.Create(s.ctx, testPeople.Name, Document{"email": "gone@example.com"})
		s.NoError(err)
	})
}

func (s *StoreContractSuite) TestChanges() {
	created, err := s.store.Create(s.ctx, testEvents.Name, Document{"status": "open"})
	s.Require().NoError(err)
	_, err = s.store.Create(s.ctx, testPeople.Name, Document{"email": "feed@example.com"})
	s.Require().NoError(err)
	_, err = s.store.Replace(s.ctx, testEvents.Name, created.ID(), Document{"status": "open", "name": "x"})
	s.Require().NoError(err)
	s.Require().NoError(s.store.Delete(s.ctx, testEvents.Name, created.ID(), "open"))

	s.Run("lists committed writes of one collection in order", func() {
		changes, err := s.store.Changes(s.ctx, testEvents.Name, 0, 0)
		s.Require().NoError(err)
		s.Require().Len(changes, 3)
		s.Equal(OperationCreate, changes[0].Operation)
		s.Equal(OperationReplace, changes[1].Operation)
		s.Equal(OperationDelete, changes[2].Operation)
		for i, ch := range changes {
			s.Equal(created.ID(), ch.DocumentID)
			s.Equal(testEvents.Name, ch.Collection)
			if i > 0 {
				s.Greater(ch.Seq, changes[i-1].Seq)
			}
		}
		s.Equal("x", changes[1].Document.String("name"))
	})

	s.Run("resumes after a sequence number", func() {
		all, err := s.store.Changes(s.ctx, testEvents.Name, 0, 0)
		s.Require().NoError(err)

		rest, err := s.store.Changes(s.ctx, testEvents.Name, all[0].Seq, 0)
		s.Require().NoError(err)
		s.Len(rest, 2)
	})

	s.Run("honours the limit", func() {
		changes, err := s.store.Changes(s.ctx, testEvents.Name, 0, 1)
		s.Require().NoError(err)
		s.Len(changes, 1)
	})
}

// TestConcurrentUniqueCreate verifies that racing creates with the same
// unique key value result in exactly one success.
func (s *StoreContractSuite) TestConcurrentUniqueCreate() {
	const goroutines = 20

	var (
		wg        sync.WaitGroup
		successes atomic.Int32
		conflicts atomic.Int32
	)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.store.Create(s.ctx, testPeople.Name, Document{"email": "race@example.com"})
			switch {
			case err == nil:
				successes.Add(1)
			case errors.Is(err, sentinel.ErrConflict):
				conflicts.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), successes.Load())
	s.Equal(int32(goroutines-1), conflicts.Load())
}

// TestConcurrentConditionalReplace verifies that racing replaces carrying the
// same etag result in exactly one success.
func (s *StoreContractSuite) TestConcurrentConditionalReplace() {
	created, err := s.store.Create(s.ctx, testEvents.Name, Document{"status": "open"})
	s.Require().NoError(err)

	const goroutines = 20
	var (
		wg        sync.WaitGroup
		successes atomic.Int32
		stale     atomic.Int32
	)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			next := created.Clone()
			next["writer"] = n
			_, err := s.store.Replace(s.ctx, testEvents.Name, created.ID(), next)
			switch {
			case err == nil:
				successes.Add(1)
			case errors.Is(err, sentinel.ErrPreconditionFailed):
				stale.Add(1)
			}
		}(i)
	}
	wg.Wait()

	s.Equal(int32(1), successes.Load())
	s.Equal(int32(goroutines-1), stale.Load())
}

func (s *StoreContractSuite) TestHead() {
	head, err := s.store.Head(s.ctx)
	s.Require().NoError(err)
	s.Zero(head, "an empty change log has no head")

	_, err = s.store.Create(s.ctx, testEvents.Name, Document{"status": "open"})
	s.Require().NoError(err)
	_, err = s.store.Create(s.ctx, testPeople.Name, Document{"email": "head@example.com"})
	s.Require().NoError(err)

	head, err = s.store.Head(s.ctx)
	s.Require().NoError(err)
	people, err := s.store.Changes(s.ctx, testPeople.Name, 0, 0)
	s.Require().NoError(err)
	s.Require().Len(people, 1)
	s.Equal(people[0].Seq, head, "head spans every collection")

	rest, err := s.store.Changes(s.ctx, testEvents.Name, head, 0)
	s.Require().NoError(err)
	s.Empty(rest)
}
