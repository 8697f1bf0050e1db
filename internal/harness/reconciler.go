package harness

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/rburan/streamvet/internal/core/domain"
)

// normalizeInts returns a sorted copy.
func normalizeInts(in []int64) []int64 {
	out := make([]int64, len(in))
	copy(out, in)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// normalizeStrings returns a sorted copy.
func normalizeStrings(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	sort.Strings(out)
	return out
}

// reconcileElements compares a read-back element sequence against the
// reference after normalizing both. Returns a mismatch error naming
// expected and actual.
func reconcileElements(name string, reference, actual []int64) error {
	want := normalizeInts(reference)
	got := normalizeInts(actual)
	if !equalInts(want, got) {
		return domain.ErrVerificationMismatch.WithDetails(
			fmt.Sprintf("%s state: expected %v, got %v", name, want, got))
	}
	return nil
}

// reconcileBroadcast checks a read-back broadcast map against the
// reference: the key set must equal the reference and the value set its
// stringified form, each verified independently.
func reconcileBroadcast(name string, reference []int64, entries map[int64]string) error {
	keys := make([]int64, 0, len(entries))
	values := make([]string, 0, len(entries))
	for k, v := range entries {
		keys = append(keys, k)
		values = append(values, v)
	}

	wantKeys := normalizeInts(reference)
	gotKeys := normalizeInts(keys)
	if !equalInts(wantKeys, gotKeys) {
		return domain.ErrVerificationMismatch.WithDetails(
			fmt.Sprintf("%s state keys: expected %v, got %v", name, wantKeys, gotKeys))
	}

	wantValues := make([]string, 0, len(reference))
	for _, v := range reference {
		wantValues = append(wantValues, strconv.FormatInt(v, 10))
	}
	wantValues = normalizeStrings(wantValues)
	gotValues := normalizeStrings(values)
	if !equalStrings(wantValues, gotValues) {
		return domain.ErrVerificationMismatch.WithDetails(
			fmt.Sprintf("%s state values: expected %v, got %v", name, wantValues, gotValues))
	}
	return nil
}

func equalInts(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
