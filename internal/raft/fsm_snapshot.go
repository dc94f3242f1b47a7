package raft

import (
	"github.com/hashicorp/raft"
	"github.com/rs/zerolog/log"

	"github.com/leasegate/leasegate/internal/store"
)

type FSMSnapshot struct {
	store *store.BadgerStore
}

func (f *FSMSnapshot) Persist(sink raft.SnapshotSink) error {
	if err := f.store.PersistSnapshot(sink); err != nil {
		log.Debug().Msg("Error copying leases to sink")
		sink.Cancel()
		return err
	}
	return sink.Close()
}

func (f *FSMSnapshot) Release() {}
