package server

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ahmethakanbesel/marketdata/internal/apperror"
	"github.com/ahmethakanbesel/marketdata/internal/market"
	"github.com/ahmethakanbesel/marketdata/internal/run"
)

const maxBodyBytes = 1 << 20

type APIResponse[T any] struct {
	Message string `json:"message"`
	Data    T      `json:"data"`
}

func writeJSON[T any](w http.ResponseWriter, status int, data T) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(APIResponse[T]{
		Message: "ok",
		Data:    data,
	})
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(APIResponse[string]{
		Message: message,
		Data:    "",
	})
}

// writeServiceError maps an *apperror.AppError to its status; anything else
// is a 500.
func writeServiceError(w http.ResponseWriter, err error) {
	var ae *apperror.AppError
	if errors.As(err, &ae) {
		writeError(w, ae.HTTPStatus(), ae.Message())
		return
	}
	slog.Error("request failed", "error", err)
	writeError(w, http.StatusInternalServerError, "internal server error")
}

// decodeJSON reads a JSON body into v. An empty body leaves v untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func writeCSV(w http.ResponseWriter, bars []market.Bar) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename=prices.csv")
	w.WriteHeader(http.StatusOK)

	_, _ = fmt.Fprintln(w, "Symbol,Date,Open,High,Low,Close,PreClose,Change,PctChg,Volume,Amount")
	for _, b := range bars {
		_, _ = fmt.Fprintf(w, "%s,%s,%.4f,%.4f,%.4f,%.4f,%.4f,%.4f,%.4f,%.2f,%.3f\n", //nolint:gosec // CSV output from internal domain types, not user input
			b.Symbol,
			b.TradeDate.Format(time.DateOnly),
			b.Open,
			b.High,
			b.Low,
			b.Close,
			b.PreClose,
			b.Change,
			b.PctChg,
			b.Volume,
			b.Amount,
		)
	}
}

func writeRunsCSV(w http.ResponseWriter, runs []run.Run) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename=runs.csv")
	w.WriteHeader(http.StatusOK)

	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"ID", "Scope", "Mode", "Status", "AsOfTradeDate", "StartedAt", "FinishedAt",
		"SymbolCount", "Inserted", "Updated", "Errors", "ErrorMessage"})
	for _, r := range runs {
		_ = cw.Write([]string{
			strconv.FormatInt(r.ID, 10),
			string(r.Scope),
			string(r.Mode),
			string(r.Status),
			formatTime(r.AsOfTradeDate, market.DateFormat),
			r.StartedAt.Format(time.RFC3339),
			formatTime(r.FinishedAt, time.RFC3339),
			strconv.FormatInt(r.SymbolCount, 10),
			strconv.FormatInt(r.Inserted, 10),
			strconv.FormatInt(r.Updated, 10),
			strconv.FormatInt(r.Errors, 10),
			deref(r.ErrorMessage),
		})
	}
	cw.Flush()
}

func formatTime(t *time.Time, layout string) string {
	if t == nil {
		return ""
	}
	return t.Format(layout)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
