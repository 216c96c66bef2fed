package sheets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/Veraticus/deviation-watch/internal/common"
	"github.com/Veraticus/deviation-watch/internal/model"
	"github.com/Veraticus/deviation-watch/internal/report"
)

const valueInputOption = "USER_ENTERED"

// Writer implements the ReportWriter interface for Google Sheets.
type Writer struct {
	service *sheets.Service
	logger  *slog.Logger
	config  Config
}

// NewWriter creates a new Google Sheets report writer.
func NewWriter(ctx context.Context, config Config, logger *slog.Logger) (*Writer, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	srv, err := createSheetsService(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets service: %w", err)
	}
	return NewWriterWithService(srv, config, logger), nil
}

// NewWriterWithService wraps an already constructed Sheets service.
func NewWriterWithService(srv *sheets.Service, config Config, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultConfig().BatchSize
	}
	return &Writer{
		service: srv,
		config:  config,
		logger:  logger.With("component", "sheets_writer"),
	}
}

// Write publishes every report table to its own tab.
func (w *Writer) Write(ctx context.Context, r *report.Report) error {
	tables := r.Tables()
	w.logger.Info("starting report upload",
		"run_id", r.Meta.RunID,
		"tabs", len(tables),
		"records", r.Summary.Records)

	titles := make([]string, len(tables))
	for i, t := range tables {
		titles[i] = t.Name
	}

	spreadsheetID, err := w.getOrCreateSpreadsheet(ctx, titles)
	if err != nil {
		return fmt.Errorf("failed to get spreadsheet: %w", err)
	}

	sheetIDs, err := w.ensureTabs(ctx, spreadsheetID, titles)
	if err != nil {
		return fmt.Errorf("failed to prepare tabs: %w", err)
	}

	rows := 0
	for _, t := range tables {
		values := tableValues(t)
		if err := w.retry(ctx, func() error { return w.clearTab(ctx, spreadsheetID, t.Name) }); err != nil {
			return fmt.Errorf("failed to clear tab %s: %w", t.Name, err)
		}
		if err := w.retry(ctx, func() error { return w.writeValues(ctx, spreadsheetID, t.Name, values) }); err != nil {
			return fmt.Errorf("failed to write tab %s: %w", t.Name, err)
		}
		rows += len(values)
	}

	if w.config.EnableFormatting {
		requests := formatRequests(tables, sheetIDs)
		err := w.retry(ctx, func() error {
			_, err := w.service.Spreadsheets.BatchUpdate(spreadsheetID, &sheets.BatchUpdateSpreadsheetRequest{
				Requests: requests,
			}).Context(ctx).Do()
			return classify(err)
		})
		if err != nil {
			// Values are already written; a formatting failure leaves a usable sheet.
			w.logger.Warn("failed to apply formatting", "error", err)
		}
	}

	w.logger.Info("report upload completed",
		"spreadsheet_id", spreadsheetID,
		"rows_written", rows)
	return nil
}

// createSheetsService creates a Google Sheets API service.
func createSheetsService(ctx context.Context, config Config) (*sheets.Service, error) {
	var tokenSource oauth2.TokenSource

	if config.ServiceAccountPath != "" {
		jsonKey, err := os.ReadFile(config.ServiceAccountPath)
		if err != nil {
			return nil, fmt.Errorf("unable to read service account key file: %w", err)
		}

		jwtConfig, err := google.JWTConfigFromJSON(jsonKey, sheets.SpreadsheetsScope)
		if err != nil {
			return nil, fmt.Errorf("unable to parse service account key: %w", err)
		}
		tokenSource = jwtConfig.TokenSource(ctx)
	} else {
		client := &oauth2.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			Endpoint:     google.Endpoint,
			Scopes:       []string{sheets.SpreadsheetsScope},
		}
		tokenSource = client.TokenSource(ctx, &oauth2.Token{
			RefreshToken: config.RefreshToken,
			TokenType:    "Bearer",
		})
	}

	srv, err := sheets.NewService(ctx, option.WithHTTPClient(oauth2.NewClient(ctx, tokenSource)))
	if err != nil {
		return nil, fmt.Errorf("unable to create sheets service: %w", err)
	}
	return srv, nil
}

func (w *Writer) retry(ctx context.Context, op func() error) error {
	return common.WithRetry(ctx, op, w.config.RetryOptions())
}

// getOrCreateSpreadsheet verifies the configured spreadsheet or creates a new one.
func (w *Writer) getOrCreateSpreadsheet(ctx context.Context, titles []string) (string, error) {
	if w.config.SpreadsheetID != "" {
		return w.config.SpreadsheetID, nil
	}

	tabs := make([]*sheets.Sheet, 0, len(titles))
	for _, title := range titles {
		tabs = append(tabs, &sheets.Sheet{Properties: &sheets.SheetProperties{Title: title}})
	}
	spreadsheet := &sheets.Spreadsheet{
		Properties: &sheets.SpreadsheetProperties{
			Title:    w.config.SpreadsheetName,
			TimeZone: w.config.TimeZone,
		},
		Sheets: tabs,
	}

	var created *sheets.Spreadsheet
	err := w.retry(ctx, func() error {
		var err error
		created, err = w.service.Spreadsheets.Create(spreadsheet).Context(ctx).Do()
		return classify(err)
	})
	if err != nil {
		return "", fmt.Errorf("unable to create spreadsheet: %w", err)
	}

	w.logger.Info("created new spreadsheet",
		"id", created.SpreadsheetId,
		"url", created.SpreadsheetUrl)
	return created.SpreadsheetId, nil
}

// ensureTabs adds any missing tabs and returns the sheet ID of every title.
func (w *Writer) ensureTabs(ctx context.Context, spreadsheetID string, titles []string) (map[string]int64, error) {
	var existing *sheets.Spreadsheet
	err := w.retry(ctx, func() error {
		var err error
		existing, err = w.service.Spreadsheets.Get(spreadsheetID).Context(ctx).Do()
		return classify(err)
	})
	if err != nil {
		return nil, fmt.Errorf("unable to access spreadsheet %s: %w", spreadsheetID, err)
	}

	ids := make(map[string]int64, len(titles))
	for _, s := range existing.Sheets {
		if s.Properties != nil {
			ids[s.Properties.Title] = s.Properties.SheetId
		}
	}

	var missing []*sheets.Request
	for _, title := range titles {
		if _, ok := ids[title]; !ok {
			missing = append(missing, &sheets.Request{
				AddSheet: &sheets.AddSheetRequest{Properties: &sheets.SheetProperties{Title: title}},
			})
		}
	}
	if len(missing) == 0 {
		return ids, nil
	}

	var resp *sheets.BatchUpdateSpreadsheetResponse
	err = w.retry(ctx, func() error {
		var err error
		resp, err = w.service.Spreadsheets.BatchUpdate(spreadsheetID, &sheets.BatchUpdateSpreadsheetRequest{
			Requests: missing,
		}).Context(ctx).Do()
		return classify(err)
	})
	if err != nil {
		return nil, fmt.Errorf("unable to add tabs: %w", err)
	}
	for _, reply := range resp.Replies {
		if reply.AddSheet != nil && reply.AddSheet.Properties != nil {
			ids[reply.AddSheet.Properties.Title] = reply.AddSheet.Properties.SheetId
		}
	}
	w.logger.Debug("added tabs", "count", len(missing))
	return ids, nil
}

func (w *Writer) clearTab(ctx context.Context, spreadsheetID, title string) error {
	_, err := w.service.Spreadsheets.Values.Clear(spreadsheetID, a1(title, "A:ZZ"), &sheets.ClearValuesRequest{}).Context(ctx).Do()
	return classify(err)
}

// writeValues writes values in batches to stay under request size limits.
func (w *Writer) writeValues(ctx context.Context, spreadsheetID, title string, values [][]any) error {
	for i := 0; i < len(values); i += w.config.BatchSize {
		end := min(i+w.config.BatchSize, len(values))
		batch := values[i:end]

		_, err := w.service.Spreadsheets.Values.Update(spreadsheetID, a1(title, fmt.Sprintf("A%d", i+1)), &sheets.ValueRange{
			Values: batch,
		}).ValueInputOption(valueInputOption).Context(ctx).Do()
		if err != nil {
			return fmt.Errorf("failed to write batch starting at row %d: %w", i+1, classify(err))
		}
		w.logger.Debug("wrote batch", "tab", title, "start_row", i+1, "rows", len(batch))
	}
	return nil
}

// tableValues renders a table as header plus rows. Empty rows stay empty.
func tableValues(t report.Table) [][]any {
	values := make([][]any, 0, len(t.Rows)+1)
	header := make([]any, len(t.Header))
	for i, h := range t.Header {
		header[i] = h
	}
	values = append(values, header)
	for _, row := range t.Rows {
		if row == nil {
			row = []any{}
		}
		values = append(values, row)
	}
	return values
}

func formatRequests(tables []report.Table, sheetIDs map[string]int64) []*sheets.Request {
	var requests []*sheets.Request
	for _, t := range tables {
		id, ok := sheetIDs[t.Name]
		if !ok {
			continue
		}
		width := int64(len(t.Header))
		requests = append(requests,
			&sheets.Request{
				RepeatCell: &sheets.RepeatCellRequest{
					Range: &sheets.GridRange{SheetId: id, StartRowIndex: 0, EndRowIndex: 1, StartColumnIndex: 0, EndColumnIndex: width},
					Cell: &sheets.CellData{
						UserEnteredFormat: &sheets.CellFormat{TextFormat: &sheets.TextFormat{Bold: true}},
					},
					Fields: "userEnteredFormat.textFormat",
				},
			},
			&sheets.Request{
				UpdateSheetProperties: &sheets.UpdateSheetPropertiesRequest{
					Properties: &sheets.SheetProperties{
						SheetId:        id,
						GridProperties: &sheets.GridProperties{FrozenRowCount: 1},
					},
					Fields: "gridProperties.frozenRowCount",
				},
			},
		)

		for i, sev := range t.Severity {
			color := severityColor(sev)
			if color == nil {
				continue
			}
			row := int64(i + 1)
			requests = append(requests, &sheets.Request{
				RepeatCell: &sheets.RepeatCellRequest{
					Range: &sheets.GridRange{SheetId: id, StartRowIndex: row, EndRowIndex: row + 1, StartColumnIndex: 0, EndColumnIndex: width},
					Cell: &sheets.CellData{
						UserEnteredFormat: &sheets.CellFormat{BackgroundColor: color},
					},
					Fields: "userEnteredFormat.backgroundColor",
				},
			})
		}

		requests = append(requests, &sheets.Request{
			AutoResizeDimensions: &sheets.AutoResizeDimensionsRequest{
				Dimensions: &sheets.DimensionRange{SheetId: id, Dimension: "COLUMNS", StartIndex: 0, EndIndex: width},
			},
		})
	}
	return requests
}

func severityColor(sev model.Severity) *sheets.Color {
	switch sev {
	case model.SeverityCritical:
		return &sheets.Color{Red: 1, Green: 0.78, Blue: 0.81}
	case model.SeverityWarning:
		return &sheets.Color{Red: 1, Green: 0.95, Blue: 0.8}
	default:
		return nil
	}
}

// a1 builds a quoted A1 range for a tab title.
func a1(title, cells string) string {
	return "'" + strings.ReplaceAll(title, "'", "''") + "'!" + cells
}

// classify marks API failures as retryable or permanent.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return err
	}
	switch {
	case apiErr.Code == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %w", common.ErrRateLimit, err)
	case apiErr.Code >= http.StatusInternalServerError:
		return &common.RetryableError{Err: err, Retryable: true}
	default:
		return common.Permanent(err)
	}
}
