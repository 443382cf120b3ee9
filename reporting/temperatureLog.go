package reporting

import (
	"bytes"
	"context"
	"io"

	"github.com/mmdatafocus/fieldreport_backend/compliance"
	"github.com/mmdatafocus/fieldreport_backend/models"
	"github.com/xuri/excelize/v2"
)

const (
	ContentTypeXLSX       = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	temperatureSheet      = "Temperatures"
	temperatureDateFormat = "2006-01-02 15:04:05"
)

// TemperatureLogExporter writes a report's readings, with their verdicts, to a spreadsheet.
type TemperatureLogExporter struct {
	checker *compliance.TemperatureChecker
}

func NewTemperatureLogExporter(equipment compliance.ThresholdDirectory) *TemperatureLogExporter {
	return &TemperatureLogExporter{checker: compliance.NewTemperatureChecker(equipment)}
}

func (e *TemperatureLogExporter) Export(ctx context.Context, report *models.Report, w io.Writer) error {
	verdicts := e.checker.CheckAll(ctx, report.TemperatureReadings)

	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName("Sheet1", temperatureSheet); err != nil {
		return err
	}

	headers := []interface{}{"Report", "Equipment", "Value", "Unit", "Celsius", "CapturedAt", "RecordedBy", "Result"}
	if err := f.SetSheetRow(temperatureSheet, "A1", &headers); err != nil {
		return err
	}
	for i, v := range verdicts {
		unit := "F"
		if v.Reading.UnitCelsius {
			unit = "C"
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := []interface{}{
			report.ID,
			v.Reading.EquipmentID,
			v.Reading.Value.InexactFloat64(),
			unit,
			v.Reading.Celsius().Round(2).InexactFloat64(),
			v.Reading.CapturedAt.UTC().Format(temperatureDateFormat),
			v.Reading.RecordedBy,
			string(v.Value),
		}
		if err := f.SetSheetRow(temperatureSheet, cell, &row); err != nil {
			return err
		}
	}
	return f.Write(w)
}

// ExportBytes is Export into memory.
func (e *TemperatureLogExporter) ExportBytes(ctx context.Context, report *models.Report) ([]byte, error) {
	var buf bytes.Buffer
	if err := e.Export(ctx, report, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
