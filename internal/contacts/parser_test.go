package contacts

import (
	"errors"
	"math"
	"reflect"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/lucasdeangeli4scale/disparaai/pkg/logging"
)

func newTestNormalizer() *Normalizer {
	return NewNormalizer(brazilValidator(true), WithLogger(logging.Discard()), WithMaxBytes(1024))
}

func TestParseTelefoneColumn(t *testing.T) {
	csv := "nome,telefone\n" +
		"Ana,+55 11 98765-4321\n" +
		"Bruno,(21) 99876-5432\n" +
		"Carla,31 8877-6655\n" +
		"Davi,5511976543210\n" +
		"Eva,invalid-phone\n"

	res, err := newTestNormalizer().Parse([]byte(csv), "contatos.csv")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if res.Stats.Total != 5 || res.Stats.Valid != 4 || res.Stats.Invalid != 1 {
		t.Fatalf("unexpected stats: %+v", res.Stats)
	}
	if math.Abs(res.Stats.SuccessRate-80.0) > 0.001 {
		t.Fatalf("expected 80%% success rate, got %v", res.Stats.SuccessRate)
	}
	if !reflect.DeepEqual(res.Stats.Countries, map[string]int{"BR": 4}) {
		t.Fatalf("unexpected countries: %v", res.Stats.Countries)
	}
	if !reflect.DeepEqual(res.Columns, []string{"telefone"}) || res.Fallback {
		t.Fatalf("unexpected columns %v fallback=%v", res.Columns, res.Fallback)
	}

	raws := make([]string, 0, len(res.Records))
	for _, rec := range res.Records {
		raws = append(raws, rec.Raw)
	}
	want := []string{"+55 11 98765-4321", "(21) 99876-5432", "31 8877-6655", "5511976543210", "invalid-phone"}
	if !reflect.DeepEqual(raws, want) {
		t.Fatalf("expected raws %v, got %v", want, raws)
	}
	if res.Records[2].Formatted != "+5531988776655" {
		t.Fatalf("expected repaired mobile, got %s", res.Records[2].Formatted)
	}
}

func TestParseEdgeCases(t *testing.T) {
	tests := []struct {
		name  string
		data  string
		total int
	}{
		{"empty file", "", 0},
		{"header only", "telefone\n", 0},
		{"header only multi column", "nome;celular\n", 0},
		{"nan-like cells", "phone\nnan\nNULL\n \nN/A\n", 0},
		{"case-insensitive header", "Nome,TELEFONE\nAna,11987654321\n", 1},
		{"semicolon delimiter", "nome;whatsapp\nAna;11987654321\nBia;21998765432\n", 2},
		{"duplicates count once", "phone\n11987654321\n11987654321\n21998765432\n11987654321\n", 2},
		{"no keyword uses first column", "lista_vip,nome\n11987654321,Ana\n", 1},
		{"headerless single column", "11987654321\n21998765432\n", 2},
		{"float rendering", "telefone\n5511987654321.0\n", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := newTestNormalizer().Parse([]byte(tt.data), "list.csv")
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if res.Stats.Total != tt.total || len(res.Records) != tt.total {
				t.Fatalf("expected %d records, got total=%d records=%d", tt.total, res.Stats.Total, len(res.Records))
			}
		})
	}
}

func TestParseDedupKeepsRawUnique(t *testing.T) {
	data := "telefone,celular\n11987654321,21998765432\n21998765432,11987654321\n31988776655,\n"
	res, err := newTestNormalizer().Parse([]byte(data), "dup.csv")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	seen := map[string]bool{}
	for _, rec := range res.Records {
		if seen[rec.Raw] {
			t.Fatalf("duplicate raw %q", rec.Raw)
		}
		seen[rec.Raw] = true
	}
	if len(res.Records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(res.Records))
	}
	if res.Records[0].Raw != "11987654321" || res.Records[1].Raw != "21998765432" {
		t.Fatalf("expected first-seen order, got %+v", res.Records)
	}
}

func TestParseFallsBackToNaiveSplit(t *testing.T) {
	data := "telefone,nome\n11987654321,\"Ana \"da\" Silva\n21998765432,Bia\n"
	res, err := newTestNormalizer().Parse([]byte(data), "broken.csv")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !res.Fallback || res.Stats.Valid != 2 {
		t.Fatalf("expected fallback with 2 valid, got fallback=%v valid=%d", res.Fallback, res.Stats.Valid)
	}
}

func TestParseLatin1Upload(t *testing.T) {
	// "Número" encoded as ISO-8859-1.
	data := []byte("N\xfamero;nome\n11987654321;Jo\xe3o\n")
	res, err := newTestNormalizer().Parse(data, "latin.csv")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !reflect.DeepEqual(res.Columns, []string{"Número"}) || res.Stats.Valid != 1 {
		t.Fatalf("unexpected columns %v valid=%d", res.Columns, res.Stats.Valid)
	}
}

func TestParseXLSX(t *testing.T) {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	rows := map[string][]any{
		"A1": {"Nome", "Celular"},
		"A2": {"Ana", "11987654321"},
		"A3": {"Bia", "(21) 99876-5432"},
	}
	for cell, row := range rows {
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			t.Fatalf("set row %s: %v", cell, err)
		}
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("write workbook: %v", err)
	}

	n := NewNormalizer(brazilValidator(true), WithLogger(logging.Discard()))
	res, err := n.Parse(buf.Bytes(), "lista.xlsx")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if res.Stats.Valid != 2 || !reflect.DeepEqual(res.Columns, []string{"Celular"}) {
		t.Fatalf("unexpected result: valid=%d columns=%v", res.Stats.Valid, res.Columns)
	}
}

func TestParseRejectsOversizeAndLegacyWorkbooks(t *testing.T) {
	n := newTestNormalizer()
	if _, err := n.Parse(make([]byte, 2048), "big.csv"); !errors.Is(err, ErrUploadTooLarge) {
		t.Fatalf("expected ErrUploadTooLarge, got %v", err)
	}
	if _, err := n.Parse([]byte{0xd0, 0xcf, 0x11, 0xe0}, "old.xls"); !errors.Is(err, ErrUnsupportedFile) {
		t.Fatalf("expected ErrUnsupportedFile, got %v", err)
	}
}

func TestFindPhoneColumns(t *testing.T) {
	if got := FindPhoneColumns([]string{"nome", "Telefone", "WhatsApp"}); !reflect.DeepEqual(got, []int{1, 2}) {
		t.Fatalf("expected keyword columns, got %v", got)
	}
	if got := FindPhoneColumns([]string{"email", "nome"}); !reflect.DeepEqual(got, []int{0}) {
		t.Fatalf("expected first column fallback, got %v", got)
	}
	if got := FindPhoneColumns(nil); got != nil {
		t.Fatalf("expected nil, got %v", got)
	}
}

func TestStatsSummary(t *testing.T) {
	stats := BuildStats([]PhoneRecord{
		{Raw: "a", Valid: true, CountryCode: "BR"},
		{Raw: "b", Valid: true, CountryCode: "PT"},
		{Raw: "c"},
	})
	if stats.Total != 3 {
		t.Fatalf("expected 3 total, got %d", stats.Total)
	}
	if !strings.Contains(stats.Summary(), "Países: BR, PT") {
		t.Fatalf("unexpected summary: %s", stats.Summary())
	}
	if got := ValidRecords([]PhoneRecord{{Valid: true}, {}}); len(got) != 1 {
		t.Fatalf("expected 1 valid record, got %d", len(got))
	}
	if !strings.Contains(BuildStats(nil).Summary(), "Nenhum detectado") {
		t.Fatalf("unexpected empty summary: %s", BuildStats(nil).Summary())
	}
}
