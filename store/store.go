// Package store is a thread-safe façade over the Ceph/RADOS object store
// client. It exists because the underlying client library's connect routine
// is not safe to call concurrently (a documented race in the native
// library) while every other per-operation call on an established pool is.
package store

import (
	"fmt"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/ceph/go-ceph/rados"
	"github.com/google/uuid"

	"github.com/WhereSoftwareGoesToDie/vaultaire/ingest/log"
)

const (
	// LockTimeout bounds how long a caller may legitimately hold a lock.
	// A watchdog fires a fatal signal if it is exceeded; this is an
	// intentional fail-fast against a deadlocked store, not a soft limit.
	LockTimeout = 600 * time.Second
	// lockLease is the lease requested from the store itself; it is kept
	// slightly longer than LockTimeout so the watchdog always fires first.
	lockLease = LockTimeout + 5*time.Second
)

// ConnectMu serializes Connect across every worker in the process. It must
// be held for the full Connect+OpenIOContext sequence and released only
// once the resulting Pool is usable; all subsequent per-operation calls on
// that Pool may run concurrently with no further locking.
//
// This works around a native-library connect race in librados (no public
// tracker id): concurrent Connect calls on distinct *rados.Conn values have
// been observed to corrupt each other's internal state.
var ConnectMu sync.Mutex

// Stat describes an object's size, the only property the day-map cache's
// invalidation logic needs.
type Stat struct {
	Size uint64
}

// Pool is a live handle to one (user, pool) pair on a Ceph cluster. It is
// safe for concurrent use by multiple goroutines once constructed.
type Pool struct {
	conn  *rados.Conn
	ioctx *rados.IOContext
	lg    *log.Logger
}

// Connect establishes a new Pool. Callers MUST hold ConnectMu for the
// duration of this call and release it only after Connect returns -- that
// is the entire point of the connect-mutex.
func Connect(confPath, user, poolName string, lg *log.Logger) (*Pool, error) {
	conn, err := rados.NewConnWithUser(user)
	if err != nil {
		return nil, fmt.Errorf("store: new conn: %w", err)
	}
	if err = conn.ReadConfigFile(confPath); err != nil {
		return nil, fmt.Errorf("store: read config %s: %w", confPath, err)
	}
	if err = conn.Connect(); err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}
	ioctx, err := conn.OpenIOContext(poolName)
	if err != nil {
		conn.Shutdown()
		return nil, fmt.Errorf("store: open pool %s: %w", poolName, err)
	}
	return &Pool{conn: conn, ioctx: ioctx, lg: lg}, nil
}

// Close tears down the pool's IO context and cluster connection.
func (p *Pool) Close() {
	if p.ioctx != nil {
		p.ioctx.Destroy()
	}
	if p.conn != nil {
		p.conn.Shutdown()
	}
}

// Stat returns the size of oid.
func (p *Pool) Stat(oid string) (Stat, error) {
	st, err := p.ioctx.Stat(oid)
	if err != nil {
		return Stat{}, err
	}
	return Stat{Size: st.Size}, nil
}

// ReadFull reads the entirety of oid in one call: it stats the object to
// discover its size, then reads exactly that many bytes.
func (p *Pool) ReadFull(oid string) ([]byte, error) {
	st, err := p.ioctx.Stat(oid)
	if err != nil {
		return nil, err
	}
	if st.Size == 0 {
		return nil, nil
	}
	buf := make([]byte, st.Size)
	n, err := p.ioctx.Read(oid, buf, 0)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// WithSharedLock runs fn while holding a shared lock on oid, arming a
// watchdog that raises SIGKILL if fn runs longer than LockTimeout.
func (p *Pool) WithSharedLock(oid, lockName string, fn func() error) error {
	return p.withLock(oid, lockName, false, fn)
}

// WithExclusiveLock runs fn while holding an exclusive lock on oid, arming a
// watchdog that raises SIGKILL if fn runs longer than LockTimeout.
func (p *Pool) WithExclusiveLock(oid, lockName string, fn func() error) error {
	return p.withLock(oid, lockName, true, fn)
}

func (p *Pool) withLock(oid, lockName string, exclusive bool, fn func() error) (err error) {
	cookie := uuid.NewString()
	const desc = "vaultaire reader"
	if exclusive {
		_, err = p.ioctx.LockExclusive(oid, lockName, cookie, desc, lockLease, nil)
	} else {
		_, err = p.ioctx.LockShared(oid, lockName, cookie, "", desc, lockLease, nil)
	}
	if err != nil {
		return fmt.Errorf("store: lock %s/%s: %w", oid, lockName, err)
	}

	watchdog := time.AfterFunc(LockTimeout, func() {
		if p.lg != nil {
			p.lg.Critical("lock watchdog expired, raising fatal signal", log.KV("oid", oid), log.KV("lock", lockName))
		}
		fatal()
	})
	defer watchdog.Stop()

	defer func() {
		if uerr := p.ioctx.Unlock(oid, lockName, cookie); uerr != nil && err == nil {
			err = fmt.Errorf("store: unlock %s/%s: %w", oid, lockName, uerr)
		}
	}()

	return fn()
}

// fatal is the watchdog's last resort: the store is presumed wedged, so the
// process is killed rather than left holding a lock indefinitely.
func fatal() {
	syscall.Kill(os.Getpid(), syscall.SIGKILL)
}
