package remote

import (
	"context"
	"maps"
	"sync"

	"github.com/npezzotti/go-attendance/internal/store"
	"github.com/npezzotti/go-attendance/internal/types"
	"github.com/sirupsen/logrus"
)

// Fetcher reads the shared documents from the remote authority.
type Fetcher interface {
	FetchDirectory(ctx context.Context) (types.Directory, error)
	FetchLedger(ctx context.Context) (types.Ledger, error)
	FetchLocks(ctx context.Context) (types.LockTable, error)
}

// MergeMaps returns local overlaid with remote: keys present in both take
// the remote value.
func MergeMaps[M ~map[K]V, K comparable, V any](local, remote M) M {
	out := make(M, len(local)+len(remote))
	maps.Copy(out, local)
	maps.Copy(out, remote)
	return out
}

// Merge pulls all three documents concurrently and folds each one that
// arrived into the local store. Failed fetches leave the local document as
// is. docs should not carry a mirror, or the merged result is pushed back.
func Merge(ctx context.Context, docs *store.Documents, f Fetcher, log logrus.FieldLogger) {
	var (
		wg   sync.WaitGroup
		dir  types.Directory
		led  types.Ledger
		lock types.LockTable
		errs [3]error
	)

	wg.Add(3)
	go func() {
		defer wg.Done()
		dir, errs[0] = f.FetchDirectory(ctx)
	}()
	go func() {
		defer wg.Done()
		led, errs[1] = f.FetchLedger(ctx)
	}()
	go func() {
		defer wg.Done()
		lock, errs[2] = f.FetchLocks(ctx)
	}()
	wg.Wait()

	if errs[0] == nil {
		docs.SaveDirectory(ctx, MergeMaps(docs.Directory(ctx), dir))
	} else {
		log.WithError(errs[0]).Warn("remote directory unavailable, keeping local copy")
	}

	if errs[1] == nil {
		docs.SaveLedger(ctx, MergeMaps(docs.Ledger(ctx), led))
	} else {
		log.WithError(errs[1]).Warn("remote attendance unavailable, keeping local copy")
	}

	if errs[2] == nil {
		docs.SaveLocks(ctx, MergeMaps(docs.Locks(ctx), lock))
	} else {
		log.WithError(errs[2]).Warn("remote locks unavailable, keeping local copy")
	}

	log.WithFields(logrus.Fields{
		"directory":  len(dir),
		"attendance": len(led),
		"locks":      len(lock),
	}).Info("remote merge complete")
}
