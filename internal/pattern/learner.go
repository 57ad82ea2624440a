// Package pattern implements the client-pattern learner: a
// per-counterparty lazy statistical model trained from historical
// reconciliation links, swapped in atomically once training completes
// so the suggestion engine never blocks on first-touch training and
// never observes a partially-computed model.
package pattern

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/fatturaanalyzer/reconciler/pkg/models"
)

// minRecordsToTrain is the floor below which no model is built.
const minRecordsToTrain = 5

// maxWindowYears/maxRecordsPerQuery bound the historical query the
// caller (internal/store) should apply before records ever reach here.
const (
	maxWindowYears     = 3
	maxRecordsPerQuery = 5000
)

// Prediction is what the suggestion engine consumes to adjust a
// suggestion's confidence.
type Prediction struct {
	AmountClusterMatch float64
	TemporalLikelihood float64
	OverallConfidence  float64
}

// model is the trained, immutable snapshot for one counterparty. A new
// model entirely replaces the old one — there is no partial mutation.
type model struct {
	pattern        models.ClientPattern
	avgDescVector  []float64
	trainedAt      time.Time
}

// Learner holds one model per counterparty, each guarded by its own
// lock so unrelated counterparties never contend.
type Learner struct {
	mu      sync.RWMutex
	entries map[int64]*entryState
	lru     *lru.Cache[int64, struct{}]
	ttl     time.Duration
}

type entryState struct {
	mu       sync.Mutex
	current  *model
	training bool
}

// New builds an empty learner bounded by maxCounterparties, evicting
// by LRU; ttl is how long a trained model stays trusted.
func New(maxCounterparties int, ttl time.Duration) *Learner {
	if maxCounterparties <= 0 {
		maxCounterparties = 10000
	}
	l := &Learner{
		entries: make(map[int64]*entryState),
		ttl:     ttl,
	}
	// The LRU decides residency: overflowing it drops the evicted
	// counterparty's model from the entries map. The callback fires
	// inside Add while the mutating caller holds l.mu.
	l.lru, _ = lru.NewWithEvict[int64, struct{}](maxCounterparties, func(id int64, _ struct{}) {
		delete(l.entries, id)
	})
	return l
}

// Predict returns the current trained model's prediction, or
// ok=false if untrained/expired — callers treat that as "no
// adjustment".
func (l *Learner) Predict(counterpartyID int64, target models.PaymentRecord) (Prediction, bool) {
	l.mu.RLock()
	es, exists := l.entries[counterpartyID]
	l.mu.RUnlock()
	if !exists {
		return Prediction{}, false
	}

	es.mu.Lock()
	m := es.current
	es.mu.Unlock()

	if m == nil || time.Since(m.trainedAt) > l.ttl {
		return Prediction{}, false
	}
	return predict(m.pattern, m.avgDescVector, target), true
}

// TrainAsync dispatches background training for a counterparty so
// callers never block; a cancelled context simply abandons the
// in-flight computation without ever installing a partial model.
func (l *Learner) TrainAsync(ctx context.Context, counterpartyID int64, records []models.PaymentRecord) {
	l.mu.Lock()
	es, exists := l.entries[counterpartyID]
	if !exists {
		es = &entryState{}
		l.entries[counterpartyID] = es
		l.lru.Add(counterpartyID, struct{}{})
	}
	l.mu.Unlock()

	es.mu.Lock()
	if es.training {
		es.mu.Unlock()
		return
	}
	es.training = true
	es.mu.Unlock()

	go func() {
		defer func() {
			es.mu.Lock()
			es.training = false
			es.mu.Unlock()
		}()

		if len(records) > maxRecordsPerQuery {
			records = records[:maxRecordsPerQuery]
		}
		if len(records) < minRecordsToTrain {
			log.Printf("[ClientPattern] counterparty %d has %d records, below training floor", counterpartyID, len(records))
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}

		trained := train(counterpartyID, records)
		avgVec := averageFeatureVector(records)

		select {
		case <-ctx.Done():
			return
		default:
		}

		es.mu.Lock()
		es.current = &model{pattern: trained, avgDescVector: avgVec, trainedAt: time.Now()}
		es.mu.Unlock()
		log.Printf("[ClientPattern] trained counterparty %d from %d records", counterpartyID, len(records))
	}()
}

// Invalidate drops the current model for a counterparty (links changed).
func (l *Learner) Invalidate(counterpartyID int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	// Remove fires the eviction callback, which drops the entry.
	l.lru.Remove(counterpartyID)
	delete(l.entries, counterpartyID)
}

// Model returns the currently trained pattern for a counterparty, or
// ok=false if untrained/expired, mirroring Predict's freshness check.
func (l *Learner) Model(counterpartyID int64) (models.ClientPattern, bool) {
	l.mu.RLock()
	es, exists := l.entries[counterpartyID]
	l.mu.RUnlock()
	if !exists {
		return models.ClientPattern{}, false
	}
	es.mu.Lock()
	m := es.current
	es.mu.Unlock()
	if m == nil || time.Since(m.trainedAt) > l.ttl {
		return models.ClientPattern{}, false
	}
	return m.pattern, true
}

// Recommendations renders the trained model as operator-facing
// strings. Returns nil if no model is trained yet.
func (l *Learner) Recommendations(counterpartyID int64) []string {
	p, ok := l.Model(counterpartyID)
	if !ok {
		return nil
	}
	var out []string
	switch {
	case p.ReliabilityScore >= 0.8:
		out = append(out, "Highly reliable payer: payment timing is consistent.")
	case p.ReliabilityScore >= 0.5:
		out = append(out, "Moderately reliable payer: some variance in payment timing.")
	default:
		out = append(out, "Unpredictable payer: payment timing varies widely.")
	}
	if p.Temporal != nil {
		out = append(out, fmt.Sprintf("Typically pays %.0f days after invoice date (±%.0f days).",
			p.Temporal.MeanIntervalDays, p.Temporal.StdDevDays))
		if p.Temporal.TrendSlope > 0.5 && p.Temporal.TrendRSquared > 0.3 {
			out = append(out, "Payment delay has been trending upward over recent settlements.")
		} else if p.Temporal.TrendSlope < -0.5 && p.Temporal.TrendRSquared > 0.3 {
			out = append(out, "Payment delay has been trending downward over recent settlements.")
		}
	}
	if p.AmountClusters != nil && len(p.AmountClusters.Clusters) > 0 {
		out = append(out, fmt.Sprintf("Payments cluster around %d distinct amount band(s).", len(p.AmountClusters.Clusters)))
		if p.AmountClusters.NoiseRatio > 0.5 {
			out = append(out, "Most payments don't fit a recurring amount pattern.")
		}
	}
	if p.Sequence != nil && p.Sequence.AverageInvoicesPerPayment > 1.5 {
		out = append(out, fmt.Sprintf("Often settles multiple invoices per payment (avg %.1f).", p.Sequence.AverageInvoicesPerPayment))
	}
	return out
}

// train builds the full ClientPattern: amount clustering, temporal
// model, sequence model, each optional.
func train(counterpartyID int64, records []models.PaymentRecord) models.ClientPattern {
	intervals := make([]float64, 0, len(records))
	amounts := make([]float64, 0, len(records))
	invoiceCounts := make([]int, 0, len(records))

	for _, r := range records {
		days := r.PaymentDate.Sub(r.InvoiceDate).Hours() / 24
		if days < 0 {
			days = 0
		}
		if days > 365 {
			days = 365
		}
		intervals = append(intervals, days)
		amounts = append(amounts, r.Amount)
		invoiceCounts = append(invoiceCounts, len(r.RelatedDocNumbers))
	}

	return models.ClientPattern{
		CounterpartyID:   counterpartyID,
		Records:          records,
		AmountClusters:   clusterAmounts(amounts),
		Temporal:         fitTemporal(intervals, records),
		Sequence:         fitSequence(invoiceCounts),
		ReliabilityScore: reliabilityScore(intervals),
		Version:          time.Now().UnixNano(),
		LastUpdated:      time.Now(),
	}
}

// clusterAmounts runs a simple density-based pass over the sorted
// amounts: a value joins the current group when it lies within half a
// standard deviation (of all amounts) of the previous value.
func clusterAmounts(amounts []float64) *models.AmountClusterModel {
	if len(amounts) == 0 {
		return nil
	}
	mean, stddev := meanStdDev(amounts)
	if stddev == 0 {
		return &models.AmountClusterModel{
			Clusters: []models.AmountCluster{{Center: mean, StdDev: 0, Count: len(amounts)}},
		}
	}

	sorted := append([]float64(nil), amounts...)
	sort.Float64s(sorted)

	const bandWidth = 0.5 // in standard deviations
	var clusters []models.AmountCluster
	var bucket []float64
	for _, v := range sorted {
		if len(bucket) == 0 {
			bucket = append(bucket, v)
			continue
		}
		last := bucket[len(bucket)-1]
		if math.Abs(v-last)/stddev <= bandWidth {
			bucket = append(bucket, v)
		} else {
			clusters = append(clusters, summarizeBucket(bucket))
			bucket = []float64{v}
		}
	}
	if len(bucket) > 0 {
		clusters = append(clusters, summarizeBucket(bucket))
	}

	total := len(amounts)
	noise := 0
	for _, c := range clusters {
		if c.Count == 1 {
			noise++
		}
	}
	return &models.AmountClusterModel{
		Clusters:   clusters,
		NoiseRatio: float64(noise) / float64(total),
	}
}

func summarizeBucket(bucket []float64) models.AmountCluster {
	mean, stddev := meanStdDev(bucket)
	return models.AmountCluster{Center: mean, StdDev: stddev, Count: len(bucket)}
}

// fitTemporal fits a Gaussian over payment intervals (a gamma fit
// would require a more elaborate moment-matching routine; the Gaussian
// fallback is used unconditionally) plus a coarse monthly seasonal
// factor and linear trend.
func fitTemporal(intervals []float64, records []models.PaymentRecord) *models.TemporalModel {
	if len(intervals) == 0 {
		return nil
	}
	mean, stddev := meanStdDev(intervals)

	seasonal := [12]float64{}
	counts := [12]int{}
	for _, r := range records {
		m := int(r.PaymentDate.Month()) - 1
		if m < 0 || m > 11 {
			continue
		}
		days := r.PaymentDate.Sub(r.InvoiceDate).Hours() / 24
		seasonal[m] += days
		counts[m]++
	}
	for i := range seasonal {
		if counts[i] > 0 {
			seasonal[i] = seasonal[i]/float64(counts[i]) - mean
		}
	}

	slope, rSquared := linearTrend(intervals)

	return &models.TemporalModel{
		Distribution:     "gaussian",
		MeanIntervalDays: mean,
		StdDevDays:       stddev,
		SeasonalFactors:  seasonal,
		TrendSlope:       slope,
		TrendRSquared:    rSquared,
	}
}

func fitSequence(invoiceCounts []int) *models.SequenceModel {
	if len(invoiceCounts) == 0 {
		return nil
	}
	total := 0
	max := 0
	for _, c := range invoiceCounts {
		total += c
		if c > max {
			max = c
		}
	}
	return &models.SequenceModel{
		AverageInvoicesPerPayment: float64(total) / float64(len(invoiceCounts)),
		MaxInvoicesPerPayment:     max,
	}
}

// predict scores target against a trained pattern. avgDescVector is
// the model's mean normalized description feature vector; its cosine
// similarity with target's own vector nudges the overall confidence
// alongside the two named prediction fields.
func predict(p models.ClientPattern, avgDescVector []float64, target models.PaymentRecord) Prediction {
	amountMatch := 0.0
	if p.AmountClusters != nil {
		amountMatch = amountClusterMatch(p.AmountClusters, target.Amount)
	}

	temporalLikelihood := 0.0
	if p.Temporal != nil {
		days := target.PaymentDate.Sub(target.InvoiceDate).Hours() / 24
		temporalLikelihood = gaussianLikelihood(days, p.Temporal.MeanIntervalDays, p.Temporal.StdDevDays)
	}

	descSimilarity := cosineSimilarity(avgDescVector, featureVector(target.Description))

	overall := 0.45*amountMatch + 0.45*temporalLikelihood + 0.1*descSimilarity
	return Prediction{
		AmountClusterMatch: amountMatch,
		TemporalLikelihood: temporalLikelihood,
		OverallConfidence:  overall,
	}
}

// averageFeatureVector computes the mean L2-normalized description
// feature vector across a training set, aggregated for comparison
// against a future candidate.
func averageFeatureVector(records []models.PaymentRecord) []float64 {
	if len(records) == 0 {
		return nil
	}
	sum := featureVector(records[0].Description)
	for _, r := range records[1:] {
		v := featureVector(r.Description)
		for i := range sum {
			sum[i] += v[i]
		}
	}
	for i := range sum {
		sum[i] /= float64(len(records))
	}
	return sum
}

func cosineSimilarity(a, b []float64) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func amountClusterMatch(model *models.AmountClusterModel, amount float64) float64 {
	best := 0.0
	for _, c := range model.Clusters {
		var z float64
		if c.StdDev > 0 {
			z = math.Abs(amount-c.Center) / c.StdDev
		} else if amount == c.Center {
			z = 0
		} else {
			z = math.Inf(1)
		}
		score := math.Exp(-z * z / 2)
		if score > best {
			best = score
		}
	}
	return best
}

func gaussianLikelihood(x, mean, stddev float64) float64 {
	if stddev <= 0 {
		if x == mean {
			return 1
		}
		return 0
	}
	z := (x - mean) / stddev
	return math.Exp(-z * z / 2)
}

func reliabilityScore(intervals []float64) float64 {
	if len(intervals) == 0 {
		return 0
	}
	_, stddev := meanStdDev(intervals)
	// Lower variance in payment timing -> higher reliability.
	return 1 / (1 + stddev/30)
}

func meanStdDev(values []float64) (float64, float64) {
	n := float64(len(values))
	if n == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / n
	var sqDiff float64
	for _, v := range values {
		d := v - mean
		sqDiff += d * d
	}
	return mean, math.Sqrt(sqDiff / n)
}

// linearTrend fits y = a + b*x over the sequence index and reports the
// slope and R^2.
func linearTrend(y []float64) (slope, rSquared float64) {
	n := float64(len(y))
	if n < 2 {
		return 0, 0
	}
	var sumX, sumY, sumXY, sumXX float64
	for i, v := range y {
		x := float64(i)
		sumX += x
		sumY += v
		sumXY += x * v
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0, 0
	}
	slope = (n*sumXY - sumX*sumY) / denom
	intercept := (sumY - slope*sumX) / n

	var ssTot, ssRes float64
	meanY := sumY / n
	for i, v := range y {
		x := float64(i)
		pred := intercept + slope*x
		ssRes += (v - pred) * (v - pred)
		ssTot += (v - meanY) * (v - meanY)
	}
	if ssTot == 0 {
		return slope, 0
	}
	rSquared = 1 - ssRes/ssTot
	return slope, rSquared
}

// featureVector builds the L2-normalized description feature vector
// (indicator bits over a small keyword set), used by predict and
// averageFeatureVector.
func featureVector(description string) []float64 {
	keywords := []string{"bonifico", "pagamento", "riferimento", "fattura", "saldo"}
	lower := strings.ToLower(description)
	vec := make([]float64, len(keywords))
	for i, kw := range keywords {
		if strings.Contains(lower, kw) {
			vec[i] = 1
		}
	}
	norm := 0.0
	for _, v := range vec {
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return vec
	}
	for i := range vec {
		vec[i] /= norm
	}
	return vec
}
