package pattern

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/fatturaanalyzer/reconciler/pkg/models"
)

func sampleRecords(n int) []models.PaymentRecord {
	records := make([]models.PaymentRecord, n)
	base := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		invDate := base.AddDate(0, i, 0)
		records[i] = models.PaymentRecord{
			InvoiceDate:       invDate,
			PaymentDate:       invDate.AddDate(0, 0, 20),
			Amount:            1000 + float64(i%3)*10,
			Description:       "Bonifico pagamento riferimento fattura",
			RelatedDocNumbers: []string{"A", "B"},
		}
	}
	return records
}

func TestPredictUntrainedReturnsFalse(t *testing.T) {
	l := New(100, time.Hour)
	_, ok := l.Predict(1, models.PaymentRecord{})
	if ok {
		t.Fatal("expected untrained counterparty to yield ok=false")
	}
}

func TestTrainAsyncBelowFloorNeverTrains(t *testing.T) {
	l := New(100, time.Hour)
	l.TrainAsync(context.Background(), 1, sampleRecords(2))
	waitForSettle()
	if _, ok := l.Predict(1, models.PaymentRecord{}); ok {
		t.Fatal("expected no trained model below the record floor")
	}
}

func TestTrainAsyncAboveFloorTrainsAndPredicts(t *testing.T) {
	l := New(100, time.Hour)
	records := sampleRecords(10)
	l.TrainAsync(context.Background(), 42, records)
	waitForTraining(t, l, 42)

	target := models.PaymentRecord{
		InvoiceDate: time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC),
		PaymentDate: time.Date(2023, 6, 21, 0, 0, 0, 0, time.UTC),
		Amount:      1010,
		Description: "Bonifico pagamento riferimento fattura",
	}
	pred, ok := l.Predict(42, target)
	if !ok {
		t.Fatal("expected trained model to predict")
	}
	if pred.OverallConfidence <= 0 {
		t.Fatalf("expected positive confidence, got %v", pred.OverallConfidence)
	}
}

func TestInvalidateClearsModel(t *testing.T) {
	l := New(100, time.Hour)
	l.TrainAsync(context.Background(), 7, sampleRecords(10))
	waitForTraining(t, l, 7)
	l.Invalidate(7)
	if _, ok := l.Predict(7, models.PaymentRecord{}); ok {
		t.Fatal("expected prediction to miss after invalidation")
	}
}

func TestRecommendationsReflectTrainedModel(t *testing.T) {
	l := New(100, time.Hour)
	if recs := l.Recommendations(9); recs != nil {
		t.Fatalf("expected nil recommendations before training, got %v", recs)
	}

	l.TrainAsync(context.Background(), 9, sampleRecords(10))
	waitForTraining(t, l, 9)

	recs := l.Recommendations(9)
	if len(recs) == 0 {
		t.Fatal("expected recommendations from a trained model")
	}
	// sampleRecords pays on a constant 20-day interval, which trains a
	// highly consistent temporal profile.
	found := false
	for _, r := range recs {
		if strings.Contains(r, "20 days after invoice date") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected typical-delay recommendation, got %v", recs)
	}
}

func waitForTraining(t *testing.T, l *Learner, id int64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := l.Predict(id, models.PaymentRecord{}); ok {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("training did not complete for counterparty %d in time", id)
}

func waitForSettle() {
	time.Sleep(50 * time.Millisecond)
}
