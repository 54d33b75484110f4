package engine

import (
	"sort"
	"strconv"

	"github.com/roach88/cpool/internal/ir"
	"github.com/roach88/cpool/internal/schema"
)

// SyncKind describes how a sync message was interpreted.
type SyncKind string

const (
	// SyncNone means the call carried no sync message.
	SyncNone SyncKind = "none"
	// SyncFull means the message was a full snapshot for a client with no
	// cache entry.
	SyncFull SyncKind = "full"
	// SyncDiff means the message was merged into an existing entry.
	SyncDiff SyncKind = "diff"
)

// SyncOutcome reports what ApplySync did, for logging and metrics.
type SyncOutcome struct {
	Kind SyncKind

	// Evicted is the number of cache entries the invalidation list removed.
	Evicted int

	// Added, Updated and Dropped name the databases touched, in the order
	// they were applied. For a full sync every database is Added.
	Added   []string
	Updated []string
	Dropped []string

	// Changed is false when the cache entry was left as it was.
	Changed bool
}

// ApplySync evicts the clients in invalidate, then applies msg to the entry
// for id and returns the resulting cache.
//
// A nil msg requires an existing entry. When no entry exists (never synced,
// or just evicted) msg must be a complete snapshot. Otherwise msg is an
// incremental diff merged field by field into the existing entry; databases
// in DroppedDBs are removed after all adds and updates, so a database named
// in both is absent afterwards.
//
// CRITICAL: ApplySync never returns a cache holding a partially merged
// entry. On error it returns the cache as it was after the evictions, which
// are not undone, together with a SYNC_FAILURE wrapping the cause. The
// input cache is never modified.
func ApplySync(
	cache schema.Cache,
	id ir.ClientID,
	msg *ir.SyncMessage,
	invalidate []ir.ClientID,
) (schema.Cache, SyncOutcome, error) {
	var out SyncOutcome

	for _, evict := range invalidate {
		if _, ok := cache.Get(evict); ok {
			cache = cache.Delete(evict)
			out.Evicted++
		}
	}

	existing, ok := cache.Get(id)
	if msg == nil {
		out.Kind = SyncNone
		if !ok {
			return cache, out, newSyncFailure(id, newUnknownClientError(id))
		}
		return cache, out, nil
	}

	if !ok {
		out.Kind = SyncFull
		cs, added, err := buildSnapshot(msg)
		if err != nil {
			return cache, out, newSyncFailure(id, err)
		}
		out.Added = added
		out.Changed = true
		return cache.Put(id, cs), out, nil
	}

	out.Kind = SyncDiff
	cs, err := mergeDiff(id, existing, msg, &out)
	if err != nil {
		out.Added, out.Updated, out.Dropped = nil, nil, nil
		return cache, out, newSyncFailure(id, err)
	}
	if !out.Changed {
		return cache, out, nil
	}
	return cache.Put(id, cs), out, nil
}

// buildSnapshot constructs a ClientSchema from a full snapshot.
// DroppedDBs has nothing to drop from and is ignored.
func buildSnapshot(msg *ir.SyncMessage) (schema.ClientSchema, []string, error) {
	if msg.DBs == nil {
		return schema.ClientSchema{}, nil, newProtocolError("full sync requires dbs")
	}

	var dbs schema.Databases
	names := sortedNames(msg.DBs)
	for _, name := range names {
		state, err := completeDatabase(name, msg.DBs[name], "full sync")
		if err != nil {
			return schema.ClientSchema{}, nil, err
		}
		dbs = dbs.Set(state)
	}

	global, err := requireField(msg.GlobalSchema, "full sync", "global_schema")
	if err != nil {
		return schema.ClientSchema{}, nil, err
	}
	instance, err := requireField(msg.InstanceConfig, "full sync", "instance_config")
	if err != nil {
		return schema.ClientSchema{}, nil, err
	}

	return schema.ClientSchema{
		DBs:            dbs,
		GlobalSchema:   global,
		InstanceConfig: instance,
	}, names, nil
}

// mergeDiff builds the replacement for existing. It records touched
// databases in out and sets out.Changed when anything was replaced.
func mergeDiff(
	id ir.ClientID,
	existing schema.ClientSchema,
	msg *ir.SyncMessage,
	out *SyncOutcome,
) (schema.ClientSchema, error) {
	next := existing
	dbs := existing.DBs

	for _, name := range sortedNames(msg.DBs) {
		upd := msg.DBs[name]
		cur, ok := dbs.Get(name)
		if !ok {
			state, err := completeDatabase(name, upd, "implicit add")
			if err != nil {
				return schema.ClientSchema{}, err
			}
			dbs = dbs.Set(state)
			out.Added = append(out.Added, name)
			continue
		}
		if upd.IsEmpty() {
			continue
		}
		merged, err := mergeDatabase(cur, upd)
		if err != nil {
			return schema.ClientSchema{}, err
		}
		dbs = dbs.Set(merged)
		out.Updated = append(out.Updated, name)
	}

	for _, name := range msg.DroppedDBs {
		var removed bool
		dbs, removed = dbs.Delete(name)
		if !removed {
			return schema.ClientSchema{}, newUnknownDatabaseError(id, name)
		}
		out.Dropped = append(out.Dropped, name)
	}

	if !dbs.Same(existing.DBs) {
		next.DBs = dbs
		out.Changed = true
	}

	if v, ok, err := optionalField(msg.GlobalSchema, "global_schema"); err != nil {
		return schema.ClientSchema{}, err
	} else if ok {
		next.GlobalSchema = v
		out.Changed = true
	}
	if v, ok, err := optionalField(msg.InstanceConfig, "instance_config"); err != nil {
		return schema.ClientSchema{}, err
	} else if ok {
		next.InstanceConfig = v
		out.Changed = true
	}

	return next, nil
}

// completeDatabase builds a database record from an update that must
// replace all three payloads.
func completeDatabase(name string, upd ir.DBUpdate, phase string) (schema.DatabaseState, error) {
	where := phase + " of database " + strconv.Quote(name)
	userSchema, err := requireField(upd.UserSchema, where, "user_schema")
	if err != nil {
		return schema.DatabaseState{}, err
	}
	reflection, err := requireField(upd.ReflectionCache, where, "reflection_cache")
	if err != nil {
		return schema.DatabaseState{}, err
	}
	config, err := requireField(upd.DatabaseConfig, where, "database_config")
	if err != nil {
		return schema.DatabaseState{}, err
	}
	return schema.NewDatabaseState(name, userSchema, reflection, config), nil
}

// mergeDatabase copies unspecified fields from cur and replaces the rest.
func mergeDatabase(cur schema.DatabaseState, upd ir.DBUpdate) (schema.DatabaseState, error) {
	next := cur
	fields := []struct {
		name string
		upd  ir.Update[ir.Blob]
		dst  *ir.Blob
	}{
		{"user_schema", upd.UserSchema, &next.UserSchema},
		{"reflection_cache", upd.ReflectionCache, &next.ReflectionCache},
		{"database_config", upd.DatabaseConfig, &next.DatabaseConfig},
	}
	for _, f := range fields {
		v, ok, err := optionalField(f.upd, f.name+" of database "+strconv.Quote(cur.Name))
		if err != nil {
			return schema.DatabaseState{}, err
		}
		if ok {
			*f.dst = v
		}
	}
	return next, nil
}

// requireField returns a private copy of a mandatory field. Installed
// payloads never alias the caller's buffers.
func requireField(u ir.Update[ir.Blob], where, field string) (ir.Blob, error) {
	switch u.Kind() {
	case ir.Replaced:
		v, _ := u.Value()
		return v.Clone(), nil
	case ir.Removed:
		return nil, newProtocolError("%s: %s cannot be removed", where, field)
	default:
		return nil, newProtocolError("%s: missing %s", where, field)
	}
}

// optionalField returns a private copy of a field that may be left
// unchanged. Every payload is mandatory in steady state, so Removed is
// rejected.
func optionalField(u ir.Update[ir.Blob], field string) (ir.Blob, bool, error) {
	switch u.Kind() {
	case ir.Replaced:
		v, _ := u.Value()
		return v.Clone(), true, nil
	case ir.Removed:
		return nil, false, newProtocolError("diff sync: %s cannot be removed", field)
	default:
		return nil, false, nil
	}
}

func sortedNames(dbs map[string]ir.DBUpdate) []string {
	names := make([]string, 0, len(dbs))
	for name := range dbs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
