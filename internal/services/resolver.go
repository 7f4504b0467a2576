package services

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/online-library/apiserver/internal/store"
	"github.com/online-library/apiserver/internal/validation"
	"github.com/online-library/apiserver/types"
)

// LockRefs takes the name locks for every by-name list of one create before
// any of them is resolved.
func LockRefs(ctx context.Context, tx store.CatalogTx, lists map[types.EntityKind]types.EntityRefs) error {
	var keys []string
	for kind, refs := range lists {
		if refs.Mode != types.RefByNames {
			continue
		}
		for _, name := range types.CleanNames(refs.Names) {
			keys = append(keys, store.NameKey(kind, name))
		}
	}
	if len(keys) == 0 {
		return nil
	}
	sort.Strings(keys)
	if err := tx.LockNames(ctx, keys); err != nil {
		return fmt.Errorf("lock names: %w", err)
	}
	return nil
}

// ResolveRefs turns the author or genre references of a create request into
// catalog entities inside tx. Names must already be locked with LockRefs.
//
// Id lists never create anything: every id must exist. Name lists reuse the
// lowest-id entity with the exact trimmed name and create the rest. Either
// mode rejects a list that is empty after cleaning.
func ResolveRefs(ctx context.Context, tx store.CatalogTx, kind types.EntityKind, refs types.EntityRefs) ([]types.EntityRef, error) {
	switch refs.Mode {
	case types.RefByIDs:
		return resolveIDs(ctx, tx, kind, refs.IDs)
	case types.RefByNames:
		return resolveNames(ctx, tx, kind, refs.Names)
	default:
		return nil, validation.Field(kind.Plural(), "must contain at least one item")
	}
}

func resolveIDs(ctx context.Context, tx store.CatalogTx, kind types.EntityKind, raw []int) ([]types.EntityRef, error) {
	ids := uniqueSorted(raw)
	if len(ids) == 0 {
		return nil, validation.Field(kind.Plural(), "must contain at least one item")
	}

	found, err := tx.FindByIDs(ctx, kind, ids)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", kind.Plural(), err)
	}
	if len(found) != len(ids) {
		return nil, validation.Field(kind.Plural(), fmt.Sprintf("One or more %s ids not found", kind))
	}
	return found, nil
}

func resolveNames(ctx context.Context, tx store.CatalogTx, kind types.EntityKind, raw []string) ([]types.EntityRef, error) {
	names := types.CleanNames(raw)
	if len(names) == 0 {
		return nil, validation.Field(kind.Plural(), "must contain at least one non-empty name")
	}

	refs := make([]types.EntityRef, 0, len(names))
	for _, name := range names {
		ref, err := resolveName(ctx, tx, kind, name)
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

func resolveName(ctx context.Context, tx store.CatalogTx, kind types.EntityKind, name string) (types.EntityRef, error) {
	ref, err := tx.FindByName(ctx, kind, name)
	if err == nil {
		return ref, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return types.EntityRef{}, fmt.Errorf("find %s %q: %w", kind, name, err)
	}

	ref, err = tx.CreateEntity(ctx, kind, name)
	if errors.Is(err, store.ErrConflict) {
		// Lost the race to a concurrent writer: reuse its row.
		ref, err = tx.FindByName(ctx, kind, name)
	}
	if err != nil {
		return types.EntityRef{}, fmt.Errorf("create %s %q: %w", kind, name, err)
	}
	return ref, nil
}

func uniqueSorted(ids []int) []int {
	out := make([]int, 0, len(ids))
	seen := make(map[int]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Ints(out)
	return out
}

func refIDs(refs []types.EntityRef) []int {
	ids := make([]int, len(refs))
	for i, ref := range refs {
		ids[i] = ref.ID
	}
	return ids
}
