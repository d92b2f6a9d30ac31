// Package driver abstracts primitive math and memory placement over a
// backend, so every bridge above it is purely logical. A single
// process-wide CPU driver backed by gonum is the production backend;
// buffers always live in caller-supplied slices, never inside the
// driver.
package driver

import (
	"math"
	"math/rand"
	"runtime"
	"sync"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Driver is the device abstraction every bridge is built against.
// All routines operate on caller-owned []float32 buffers and return
// nothing; a caller that passes inconsistent sizes gets a panic.
// Device-level errors abort with a diagnostic, they are never
// recoverable conditions.
type Driver interface {
	// Axpy computes Y += alpha*X.
	Axpy(alpha float32, x, y []float32)
	// Axpby computes Y = alpha*X + beta*Y.
	Axpby(alpha float32, x []float32, beta float32, y []float32)
	// Gemm computes C = alpha*op(A)*op(B) + beta*C, matching the
	// row-major (M,K)x(K,N)->(M,N) BLAS sgemm contract with explicit
	// leading dimensions, mirroring DeviceDriver::sgemm.
	Gemm(transA, transB bool, M, N, K int, alpha float32, A []float32, lda int, B []float32, ldb int, beta float32, C []float32, ldc int)
	// Sapply applies fn element-wise to dst in place.
	Sapply(dst []float32, fn func(float32) float32)
	// ElementwiseReduce2 computes dst[i] = fn(src1[i], src2[i]).
	ElementwiseReduce2(dst, src1, src2 []float32, fn func(a, b float32) float32)
	// ParallelFor runs fn(i) for i in [0,n) across worker goroutines,
	// capped at the driver's configured thread count, and blocks until
	// all iterations complete.
	ParallelFor(n int, fn func(i int))
	// InitXavier fills arr using Xavier/Glorot initialization given fanIn.
	InitXavier(arr []float32, fanIn int)
	// InitGaussian fills arr with N(mean, std^2) samples.
	InitGaussian(arr []float32, mean, std float32)
	// InitBernoulli fills arr with 0/1 samples, P(1) = p.
	InitBernoulli(arr []float32, p float32)
	// InitConstant fills arr with a constant value.
	InitConstant(arr []float32, value float32)
	// ApplyGrad computes X -= Y (the solver-independent part of an SGD step).
	ApplyGrad(x, y []float32)
	// SetNumThreads caps the driver's internal parallelism.
	SetNumThreads(n int)
}

// CPUDriver is the production backend: single process-wide, backed by
// gonum for GEMM (vector ops such as Axpy/Axpby are plain loops), and a
// bounded goroutine pool for
// parallel_map-style kernels (im2col/col2im, pooling, LRN).
type CPUDriver struct {
	numThreads int
	rng        *rand.Rand
	mu         sync.Mutex
}

// NewCPUDriver constructs the default CPU backend, capped at
// runtime.NumCPU() worker goroutines unless overridden by SetNumThreads.
func NewCPUDriver() *CPUDriver {
	return &CPUDriver{
		numThreads: runtime.NumCPU(),
		rng:        rand.New(rand.NewSource(1)),
	}
}

func (d *CPUDriver) SetNumThreads(n int) {
	if n < 1 {
		n = 1
	}
	d.numThreads = n
}

func (d *CPUDriver) Axpy(alpha float32, x, y []float32) {
	requireSameLen("Axpy", x, y)
	for i := range y {
		y[i] += alpha * x[i]
	}
}

func (d *CPUDriver) Axpby(alpha float32, x []float32, beta float32, y []float32) {
	requireSameLen("Axpby", x, y)
	for i := range y {
		y[i] = alpha*x[i] + beta*y[i]
	}
}

// Gemm converts the float32 operands to float64, delegates to gonum's
// mat.Dense.Mul (which picks an optimized BLAS-style kernel), and
// writes the float32 result back. The conversion cost is the price of
// reusing the ecosystem's matrix-multiply instead of hand-rolling one;
// see DESIGN.md for why this tradeoff was taken over a native float32 path.
func (d *CPUDriver) Gemm(transA, transB bool, M, N, K int, alpha float32, A []float32, lda int, B []float32, ldb int, beta float32, C []float32, ldc int) {
	aRows, aCols := M, K
	if transA {
		aRows, aCols = K, M
	}
	bRows, bCols := K, N
	if transB {
		bRows, bCols = N, K
	}

	aDense := mat.NewDense(aRows, aCols, toFloat64Strided(A, aRows, lda, aCols))
	bDense := mat.NewDense(bRows, bCols, toFloat64Strided(B, bRows, ldb, bCols))

	var aOp, bOp mat.Matrix = aDense, bDense
	if transA {
		aOp = aDense.T()
	}
	if transB {
		bOp = bDense.T()
	}

	result := mat.NewDense(M, N, nil)
	result.Mul(aOp, bOp)

	for i := 0; i < M; i++ {
		for j := 0; j < N; j++ {
			idx := i*ldc + j
			v := float32(alpha) * float32(result.At(i, j))
			if beta == 0 {
				C[idx] = v
			} else {
				C[idx] = v + beta*C[idx]
			}
		}
	}
}

// toFloat64Strided extracts a rows x cols row-major block from a buffer
// whose physical row stride is ld (ld >= cols), converting to float64.
func toFloat64Strided(buf []float32, rows, ld, cols int) []float64 {
	out := make([]float64, rows*cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			out[i*cols+j] = float64(buf[i*ld+j])
		}
	}
	return out
}

func (d *CPUDriver) Sapply(dst []float32, fn func(float32) float32) {
	for i := range dst {
		dst[i] = fn(dst[i])
	}
}

func (d *CPUDriver) ElementwiseReduce2(dst, src1, src2 []float32, fn func(a, b float32) float32) {
	requireSameLen("ElementwiseReduce2", src1, src2)
	requireSameLen("ElementwiseReduce2", src1, dst)
	for i := range dst {
		dst[i] = fn(src1[i], src2[i])
	}
}

// ParallelFor splits [0,n) into contiguous chunks, one per worker, and
// waits for all of them. All n iterations complete before the call
// returns.
func (d *CPUDriver) ParallelFor(n int, fn func(i int)) {
	if n <= 0 {
		return
	}
	workers := d.numThreads
	if workers > n {
		workers = n
	}
	if workers <= 1 {
		for i := 0; i < n; i++ {
			fn(i)
		}
		return
	}

	chunk := (n + workers - 1) / workers
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		start := w * chunk
		if start >= n {
			break
		}
		end := start + chunk
		if end > n {
			end = n
		}
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			for i := start; i < end; i++ {
				fn(i)
			}
		}(start, end)
	}
	wg.Wait()
}

func (d *CPUDriver) InitXavier(arr []float32, fanIn int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	scale := math.Sqrt(2.0 / float64(fanIn))
	for i := range arr {
		arr[i] = float32(d.rng.NormFloat64() * scale)
	}
}

func (d *CPUDriver) InitGaussian(arr []float32, mean, std float32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range arr {
		arr[i] = float32(d.rng.NormFloat64())*std + mean
	}
}

func (d *CPUDriver) InitBernoulli(arr []float32, p float32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range arr {
		if d.rng.Float64() < float64(p) {
			arr[i] = 1
		} else {
			arr[i] = 0
		}
	}
}

func (d *CPUDriver) InitConstant(arr []float32, value float32) {
	for i := range arr {
		arr[i] = value
	}
}

func (d *CPUDriver) ApplyGrad(x, y []float32) {
	d.Axpy(-1.0, y, x)
}

func requireSameLen(op string, a, b []float32) {
	if len(a) != len(b) {
		panic(op + ": mismatched buffer lengths")
	}
}

// Sum is a convenience wrapper over gonum/floats, used by bridges that
// need a plain reduction (e.g. bias-gradient accumulation) without a
// full GEMM.
func Sum(x []float32) float32 {
	x64 := make([]float64, len(x))
	for i, v := range x {
		x64[i] = float64(v)
	}
	return float32(floats.Sum(x64))
}
