// SPDX-License-Identifier: MIT

package switchengine

// ChooseFailoverTarget implements the two-stage failover policy shared by
// the Health Monitor and the Dispatcher's own end-of-stream handling:
// stage 1 always retreats to the black interim (the last source, index
// numSources-1) first; stage 2, once already on the interim, promotes the
// first healthy source in index order. healthy reports the live health of
// source i (interim excluded; callers should treat the interim as always
// healthy upstream of this call). Returns ok=false if no target applies.
func ChooseFailoverTarget(active, numSources int, healthy func(i int) bool) (target int, ok bool) {
	interim := numSources - 1
	if active != interim {
		return interim, true
	}
	for i := 0; i < interim; i++ {
		if healthy(i) {
			return i, true
		}
	}
	return 0, false
}
