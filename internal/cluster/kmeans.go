// Package cluster groups embedded documents with k-means and annotates
// each with its cluster id, size, keywords, and centroid similarity.
// k is chosen by an elbow heuristic over the batch; the whole stage is
// deterministic for a fixed seed.
package cluster

import (
	"math"
	"math/rand"
)

const maxIterations = 100

// fitResult is one k-means run over a fixed point set.
type fitResult struct {
	k           int
	assignments []int // point index -> cluster
	centroids   [][]float32
	inertia     float64
}

// fit runs Lloyd's algorithm with initial centroids drawn from rng.
// Points must share one dimension; k must be in [1, len(points)].
// Assignment ties go to the lowest cluster index, and an emptied cluster
// seizes the point farthest from its current centroid, so the result is
// fully determined by the rng state.
func fit(points [][]float32, k int, rng *rand.Rand) fitResult {
	dim := len(points[0])

	centroids := make([][]float32, k)
	for i, p := range rng.Perm(len(points))[:k] {
		centroids[i] = append([]float32(nil), points[p]...)
	}

	assignments := make([]int, len(points))
	for i := range assignments {
		assignments[i] = -1
	}

	for iter := 0; iter < maxIterations; iter++ {
		changed := false
		for i, p := range points {
			best, bestDist := 0, math.MaxFloat64
			for c, centroid := range centroids {
				if d := sqDistance(p, centroid); d < bestDist {
					best, bestDist = c, d
				}
			}
			if assignments[i] != best {
				assignments[i] = best
				changed = true
			}
		}

		counts := make([]int, k)
		for _, a := range assignments {
			counts[a]++
		}
		for c := 0; c < k; c++ {
			for counts[c] == 0 {
				far := farthestAssigned(points, centroids, assignments, counts)
				if far < 0 {
					break
				}
				counts[assignments[far]]--
				assignments[far] = c
				counts[c]++
				changed = true
			}
		}

		if !changed {
			break
		}

		sums := make([][]float64, k)
		for c := range sums {
			sums[c] = make([]float64, dim)
		}
		for i, p := range points {
			c := assignments[i]
			for j, f := range p {
				sums[c][j] += float64(f)
			}
		}
		for c := 0; c < k; c++ {
			centroid := make([]float32, dim)
			for j := range centroid {
				centroid[j] = float32(sums[c][j] / float64(counts[c]))
			}
			centroids[c] = centroid
		}
	}

	var inertia float64
	for i, p := range points {
		inertia += sqDistance(p, centroids[assignments[i]])
	}
	return fitResult{k: k, assignments: assignments, centroids: centroids, inertia: inertia}
}

// farthestAssigned returns the index of the point farthest from its
// centroid among clusters that can spare a member, or -1.
func farthestAssigned(points [][]float32, centroids [][]float32, assignments, counts []int) int {
	best, bestDist := -1, -1.0
	for i, p := range points {
		c := assignments[i]
		if counts[c] < 2 {
			continue
		}
		if d := sqDistance(p, centroids[c]); d > bestDist {
			best, bestDist = i, d
		}
	}
	return best
}

// chooseK fits every candidate k in [1, min(maxClusters, n/minClusterSize)]
// and picks the k at the minimum of the first difference of inertias, the
// largest single drop. Batches smaller than minClusterSize always get one
// cluster. Each candidate fit reuses the same seed so the choice depends
// only on the point set.
func chooseK(points [][]float32, maxClusters, minClusterSize int, seed int64) fitResult {
	n := len(points)
	if minClusterSize < 1 {
		minClusterSize = 1
	}
	if n < minClusterSize {
		return fit(points, 1, rand.New(rand.NewSource(seed)))
	}

	kMax := maxClusters
	if bySize := n / minClusterSize; bySize < kMax {
		kMax = bySize
	}
	if kMax < 1 {
		kMax = 1
	}
	if kMax > n {
		kMax = n
	}

	fits := make([]fitResult, kMax)
	for k := 1; k <= kMax; k++ {
		fits[k-1] = fit(points, k, rand.New(rand.NewSource(seed)))
	}
	if kMax == 1 {
		return fits[0]
	}

	best, bestDiff := 1, math.Inf(1)
	for i := 1; i < kMax; i++ {
		if diff := fits[i].inertia - fits[i-1].inertia; diff < bestDiff {
			best, bestDiff = i, diff
		}
	}
	return fits[best]
}

func sqDistance(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return sum
}
