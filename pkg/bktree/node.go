package bktree

// bkNode is an owned-pointer tree node. Unlike the VP partition tree, a
// BK tree mutates after construction (Add is incremental), so an arena of
// index-addressed nodes would need to support append-only growth under a
// mutation lock; a plain owned-pointer tree is simpler.
type bkNode[K any] struct {
	key              K
	children         map[int64]*bkNode[K]
	maxChildDistance int64
	index            int64
}

func newBKNode[K any](key K, index int64) *bkNode[K] {
	return &bkNode[K]{
		key:      key,
		children: make(map[int64]*bkNode[K]),
		index:    index,
	}
}
