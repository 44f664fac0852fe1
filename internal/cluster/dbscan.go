// Package cluster groups catalog events into spatial clusters with DBSCAN
// over great-circle distance.
package cluster

import (
	"github.com/sells-group/tdreloc/internal/geo"
)

// DBSCAN labels every point of ix with a cluster id starting at 1, or 0 for
// noise. A point is a core point when at least minPts other points lie
// within eps km. Points are visited in index order and neighbor lists are
// index-ordered, so the labelling is reproducible.
func DBSCAN(ix *geo.Index, eps float64, minPts int) (labels []int, clusters int) {
	n := ix.Len()
	labels = make([]int, n)
	visited := make([]bool, n)

	for i := 0; i < n; i++ {
		if visited[i] {
			continue
		}
		visited[i] = true
		nb := ix.Within(i, eps)
		if len(nb) < minPts {
			continue
		}
		clusters++
		expand(ix, i, nb, clusters, eps, minPts, labels, visited)
	}
	return labels, clusters
}

func expand(ix *geo.Index, seed int, nb []geo.Neighbor, cid int, eps float64, minPts int, labels []int, visited []bool) {
	labels[seed] = cid

	queued := map[int]bool{seed: true}
	queue := make([]int, 0, len(nb))
	for _, p := range nb {
		queued[p.Index] = true
		queue = append(queue, p.Index)
	}

	for k := 0; k < len(queue); k++ {
		j := queue[k]
		if !visited[j] {
			visited[j] = true
			if next := ix.Within(j, eps); len(next) >= minPts {
				for _, p := range next {
					if !queued[p.Index] {
						queued[p.Index] = true
						queue = append(queue, p.Index)
					}
				}
			}
		}
		if labels[j] == 0 {
			labels[j] = cid
		}
	}
}
