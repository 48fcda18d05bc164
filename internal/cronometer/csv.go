package cronometer

import (
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// dateLayout はエクスポートCSVおよびクエリパラメータの日付形式。
const dateLayout = "2006-01-02"

// Reader はエクスポートCSVを型付きレコードへ変換する。
// 列はヘッダ名で解決し、サービス側のリネームに備えて既知の別名を順に試す。
// 不正な行は読み飛ばしてログに記録し、残りの行の処理を続ける。
type Reader struct {
	logger *slog.Logger
}

// NewReader はReaderの新しいインスタンスを生成する。
func NewReader(logger *slog.Logger) *Reader {
	return &Reader{logger: logger}
}

// NutritionRow は日次栄養サマリーCSVの1行。
// Nutrientsには解釈できた列のみが正規化済みメトリクス名をキーとして入る。
type NutritionRow struct {
	Day       time.Time
	Nutrients map[string]float64
}

// ServingRow は食事記録CSVの1行。
type ServingRow struct {
	Day      time.Time
	FoodName string
	Amount   *float64
	Unit     string
	Calories *float64
}

// ExerciseRow は運動記録CSVの1行。
type ExerciseRow struct {
	Day            time.Time
	Name           string
	Minutes        *float64
	CaloriesBurned *float64
}

// BiometricRow は生体記録CSVの1行。
type BiometricRow struct {
	Day    time.Time
	Metric string
	Unit   string
	Amount float64
}

// NoteRow はメモCSVの1行。
type NoteRow struct {
	Day  time.Time
	Note string
}

// nutrientColumns は日次栄養サマリーの列別名。先に書いた別名から順に解決する。
var nutrientColumns = []struct {
	metric  string
	aliases []string
}{
	{"calories", []string{"Energy (kcal)", "Calories"}},
	{"protein", []string{"Protein (g)", "Protein"}},
	{"carbohydrates", []string{"Carbs (g)", "Carbohydrates (g)", "Carbohydrates"}},
	{"fat", []string{"Fat (g)", "Fat"}},
	{"fiber", []string{"Fiber (g)", "Fibre (g)", "Fiber"}},
	{"sugar", []string{"Sugars (g)", "Sugar (g)", "Sugar"}},
	{"sodium", []string{"Sodium (mg)", "Sodium"}},
}

// 各エクスポート種別で共通して使う列の別名。
var (
	dayAliases            = []string{"Date", "Day"}
	foodAliases           = []string{"Food Name", "Food"}
	amountAliases         = []string{"Amount", "Quantity"}
	unitAliases           = []string{"Units", "Unit", "Measure"}
	servingEnergyAliases  = []string{"Energy (kcal)", "Calories"}
	exerciseAliases       = []string{"Exercise", "Exercise Name"}
	minutesAliases        = []string{"Minutes", "Duration (min)"}
	caloriesBurnedAliases = []string{"Calories Burned", "Energy Burned (kcal)"}
	metricAliases         = []string{"Metric", "Biometric"}
	noteAliases           = []string{"Note", "Notes"}
)

// ParseDailyNutrition は日次栄養サマリーCSVを解釈する。
// 解決できない栄養素列は互換性ポリシーとして無視し、
// 1つも栄養素を持たない行は結果に含めない。
func (r *Reader) ParseDailyNutrition(data string) ([]NutritionRow, error) {
	idx, rows, err := r.readTable(data)
	if err != nil {
		return nil, err
	}
	if idx == nil {
		return nil, nil
	}

	dayCol, ok := idx.find(dayAliases...)
	if !ok {
		return nil, fmt.Errorf("日次栄養サマリーCSVに日付列が見つかりません")
	}

	type boundColumn struct {
		metric string
		col    int
	}
	var bound []boundColumn
	for _, nc := range nutrientColumns {
		if col, ok := idx.find(nc.aliases...); ok {
			bound = append(bound, boundColumn{metric: nc.metric, col: col})
		}
	}

	var out []NutritionRow
	for _, row := range rows {
		day, ok := r.parseDay(row, dayCol, "日次栄養サマリー")
		if !ok {
			continue
		}

		nutrients := make(map[string]float64, len(bound))
		for _, bc := range bound {
			if v, ok := parseFloatField(row, bc.col); ok {
				nutrients[bc.metric] = v
			}
		}
		if len(nutrients) == 0 {
			continue
		}

		out = append(out, NutritionRow{Day: day, Nutrients: nutrients})
	}
	return out, nil
}

// ParseServings は食事記録CSVを解釈する。食品名のない行は読み飛ばす。
func (r *Reader) ParseServings(data string) ([]ServingRow, error) {
	idx, rows, err := r.readTable(data)
	if err != nil {
		return nil, err
	}
	if idx == nil {
		return nil, nil
	}

	dayCol, ok := idx.find(dayAliases...)
	if !ok {
		return nil, fmt.Errorf("食事記録CSVに日付列が見つかりません")
	}
	foodCol, ok := idx.find(foodAliases...)
	if !ok {
		return nil, fmt.Errorf("食事記録CSVに食品名列が見つかりません")
	}
	amountCol, hasAmount := idx.find(amountAliases...)
	unitCol, hasUnit := idx.find(unitAliases...)
	energyCol, hasEnergy := idx.find(servingEnergyAliases...)

	var out []ServingRow
	for _, row := range rows {
		day, ok := r.parseDay(row, dayCol, "食事記録")
		if !ok {
			continue
		}

		food := stringField(row, foodCol)
		if food == "" {
			continue
		}

		sr := ServingRow{Day: day, FoodName: food}
		if hasAmount {
			if v, ok := parseFloatField(row, amountCol); ok {
				sr.Amount = &v
			}
		}
		if hasUnit {
			sr.Unit = stringField(row, unitCol)
		}
		if hasEnergy {
			if v, ok := parseFloatField(row, energyCol); ok {
				sr.Calories = &v
			}
		}

		out = append(out, sr)
	}
	return out, nil
}

// ParseExercises は運動記録CSVを解釈する。運動名のない行は読み飛ばす。
func (r *Reader) ParseExercises(data string) ([]ExerciseRow, error) {
	idx, rows, err := r.readTable(data)
	if err != nil {
		return nil, err
	}
	if idx == nil {
		return nil, nil
	}

	dayCol, ok := idx.find(dayAliases...)
	if !ok {
		return nil, fmt.Errorf("運動記録CSVに日付列が見つかりません")
	}
	nameCol, ok := idx.find(exerciseAliases...)
	if !ok {
		return nil, fmt.Errorf("運動記録CSVに運動名列が見つかりません")
	}
	minutesCol, hasMinutes := idx.find(minutesAliases...)
	burnedCol, hasBurned := idx.find(caloriesBurnedAliases...)

	var out []ExerciseRow
	for _, row := range rows {
		day, ok := r.parseDay(row, dayCol, "運動記録")
		if !ok {
			continue
		}

		name := stringField(row, nameCol)
		if name == "" {
			continue
		}

		er := ExerciseRow{Day: day, Name: name}
		if hasMinutes {
			if v, ok := parseFloatField(row, minutesCol); ok {
				er.Minutes = &v
			}
		}
		if hasBurned {
			if v, ok := parseFloatField(row, burnedCol); ok {
				er.CaloriesBurned = &v
			}
		}

		out = append(out, er)
	}
	return out, nil
}

// ParseBiometrics は生体記録CSVを解釈する。
// 数値を解釈できない行は読み飛ばしてログに記録する。
func (r *Reader) ParseBiometrics(data string) ([]BiometricRow, error) {
	idx, rows, err := r.readTable(data)
	if err != nil {
		return nil, err
	}
	if idx == nil {
		return nil, nil
	}

	dayCol, ok := idx.find(dayAliases...)
	if !ok {
		return nil, fmt.Errorf("生体記録CSVに日付列が見つかりません")
	}
	metricCol, ok := idx.find(metricAliases...)
	if !ok {
		return nil, fmt.Errorf("生体記録CSVに項目名列が見つかりません")
	}
	amountCol, ok := idx.find(amountAliases...)
	if !ok {
		return nil, fmt.Errorf("生体記録CSVに数値列が見つかりません")
	}
	unitCol, hasUnit := idx.find(unitAliases...)

	var out []BiometricRow
	for _, row := range rows {
		day, ok := r.parseDay(row, dayCol, "生体記録")
		if !ok {
			continue
		}

		metric := stringField(row, metricCol)
		if metric == "" {
			continue
		}

		amount, ok := parseFloatField(row, amountCol)
		if !ok {
			r.logger.Warn("数値を解釈できない行を読み飛ばします",
				slog.String("kind", "生体記録"),
				slog.String("metric", metric),
				slog.String("value", stringField(row, amountCol)),
			)
			continue
		}

		br := BiometricRow{Day: day, Metric: metric, Amount: amount}
		if hasUnit {
			br.Unit = stringField(row, unitCol)
		}

		out = append(out, br)
	}
	return out, nil
}

// ParseNotes はメモCSVを解釈する。本文のない行は読み飛ばす。
func (r *Reader) ParseNotes(data string) ([]NoteRow, error) {
	idx, rows, err := r.readTable(data)
	if err != nil {
		return nil, err
	}
	if idx == nil {
		return nil, nil
	}

	dayCol, ok := idx.find(dayAliases...)
	if !ok {
		return nil, fmt.Errorf("メモCSVに日付列が見つかりません")
	}
	noteCol, ok := idx.find(noteAliases...)
	if !ok {
		return nil, fmt.Errorf("メモCSVに本文列が見つかりません")
	}

	var out []NoteRow
	for _, row := range rows {
		day, ok := r.parseDay(row, dayCol, "メモ")
		if !ok {
			continue
		}

		note := stringField(row, noteCol)
		if note == "" {
			continue
		}

		out = append(out, NoteRow{Day: day, Note: note})
	}
	return out, nil
}

// headerIndex はヘッダ名（小文字化・空白トリム済み）から列位置への索引。
type headerIndex map[string]int

// buildHeaderIndex はヘッダ行から索引を構築する。同名ヘッダは先勝ち。
func buildHeaderIndex(header []string) headerIndex {
	idx := make(headerIndex, len(header))
	for i, name := range header {
		key := strings.ToLower(strings.TrimSpace(name))
		if _, ok := idx[key]; !ok {
			idx[key] = i
		}
	}
	return idx
}

// find は別名リストを順に試し、最初に見つかった列位置を返す。
func (h headerIndex) find(aliases ...string) (int, bool) {
	for _, alias := range aliases {
		if i, ok := h[strings.ToLower(alias)]; ok {
			return i, true
		}
	}
	return 0, false
}

// readTable はCSV全体を読み込み、ヘッダ索引とデータ行を返す。
// 空のエクスポートでは索引・行ともにnilを返す。
// 読み取りに失敗した行は読み飛ばし、残りの行の処理を続ける。
func (r *Reader) readTable(data string) (headerIndex, [][]string, error) {
	cr := csv.NewReader(strings.NewReader(data))
	cr.FieldsPerRecord = -1 // 列数の揺れは行単位の検証で扱う
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("CSVヘッダの読み取りに失敗しました: %w", err)
	}

	var rows [][]string
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			r.logger.Warn("CSV行の読み取りに失敗したため読み飛ばします",
				slog.String("error", err.Error()),
			)
			continue
		}
		rows = append(rows, record)
	}
	return buildHeaderIndex(header), rows, nil
}

// parseDay は行の日付列を解釈する。解釈できない行は読み飛ばし対象。
func (r *Reader) parseDay(row []string, col int, kind string) (time.Time, bool) {
	raw := stringField(row, col)
	day, err := time.ParseInLocation(dateLayout, raw, time.UTC)
	if err != nil {
		r.logger.Warn("日付を解釈できない行を読み飛ばします",
			slog.String("kind", kind),
			slog.String("value", raw),
		)
		return time.Time{}, false
	}
	return day, true
}

// parseFloatField は行の数値列を解釈する。空欄・非数値は値なしとして扱う。
func parseFloatField(row []string, col int) (float64, bool) {
	raw := stringField(row, col)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// stringField は行の文字列列を取り出す。範囲外の列は空文字列。
func stringField(row []string, col int) string {
	if col < 0 || col >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[col])
}
