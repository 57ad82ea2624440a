package models

// AmountClusterModel is the density-based clustering summary over a
// counterparty's historical payment amounts.
type AmountClusterModel struct {
	Clusters   []AmountCluster
	NoiseRatio float64
}

// AmountCluster is one density-based cluster of standardized amounts.
type AmountCluster struct {
	Center float64
	StdDev float64
	Count  int
}

// TemporalModel is the fitted distribution over invoice-to-payment
// intervals, plus seasonal and trend components.
type TemporalModel struct {
	Distribution    string // "gamma" or "gaussian"
	MeanIntervalDays float64
	StdDevDays      float64
	SeasonalFactors [12]float64
	TrendSlope      float64
	TrendRSquared   float64
}

// SequenceModel summarizes how many invoices typically settle in a
// single payment.
type SequenceModel struct {
	AverageInvoicesPerPayment float64
	MaxInvoicesPerPayment     int
}
