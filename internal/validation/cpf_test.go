package validation

import (
	"math/rand"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsValidCPF(t *testing.T) {
	tests := []struct {
		name     string
		document string
		valid    bool
	}{
		{
			name:     "valid formatted",
			document: "111.444.777-35",
			valid:    true,
		},
		{
			name:     "valid digits only",
			document: "52998224725",
			valid:    true,
		},
		{
			name:     "valid with spaces",
			document: " 390 533 447 05 ",
			valid:    true,
		},
		{
			name:     "repeated digits",
			document: "111.111.111-11",
			valid:    false,
		},
		{
			name:     "zeros",
			document: "000.000.000-00",
			valid:    false,
		},
		{
			name:     "wrong check digits",
			document: "123.456.789-00",
			valid:    false,
		},
		{
			name:     "wrong second check digit",
			document: "111.444.777-36",
			valid:    false,
		},
		{
			name:     "too short",
			document: "111.444.777-3",
			valid:    false,
		},
		{
			name:     "too long",
			document: "111.444.777-350",
			valid:    false,
		},
		{
			name:     "empty string",
			document: "",
			valid:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsValidCPF(tt.document)
			if got != tt.valid {
				t.Fatalf("IsValidCPF(%q) = %v, want %v", tt.document, got, tt.valid)
			}
		})
	}
}

func TestFormatCPF(t *testing.T) {
	assert.Equal(t, "111.444.777-35", FormatCPF("11144477735"))
	assert.Equal(t, "111.444.777-35", FormatCPF("111.444.777-35"))
	assert.Equal(t, "111.444.777-35", FormatCPF("111 444 777 35"))
	assert.Equal(t, "1234", FormatCPF("12-34"))
	assert.Equal(t, "", FormatCPF("abc"))
}

func TestFormatCPF_Idempotent(t *testing.T) {
	inputs := []string{"11144477735", "111.444.777-35", "12345", "", "a1b2c3d4e5f6g7h8i9j0k1", "123.456.789-0012"}
	for _, in := range inputs {
		once := FormatCPF(in)
		assert.Equal(t, once, FormatCPF(once), "input %q", in)
	}
}

// randomCPF строит валидный CPF из случайных первых девяти цифр.
func randomCPF(r *rand.Rand) string {
	for {
		d := make([]int, 11)
		for i := 0; i < 9; i++ {
			d[i] = r.Intn(10)
		}
		d[9] = checkDigit(d[:9])
		d[10] = checkDigit(d[:10])

		s := ""
		for _, digit := range d {
			s += strconv.Itoa(digit)
		}
		if IsValidCPF(s) {
			return s
		}
	}
}

func TestIsValidCPF_GeneratedDocuments(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	for i := 0; i < 1000; i++ {
		doc := randomCPF(r)
		require.True(t, IsValidCPF(doc), doc)
		require.True(t, IsValidCPF(FormatCPF(doc)), doc)
	}
}

func TestIsValidCPF_SingleDigitMutations(t *testing.T) {
	r := rand.New(rand.NewSource(7))

	total, rejected := 0, 0
	for i := 0; i < 2000; i++ {
		doc := []byte(randomCPF(r))
		pos := r.Intn(len(doc))
		orig := doc[pos]
		for doc[pos] == orig {
			doc[pos] = byte('0' + r.Intn(10))
		}

		total++
		if !IsValidCPF(string(doc)) {
			rejected++
		}
	}

	ratio := float64(rejected) / float64(total)
	assert.GreaterOrEqual(t, ratio, 0.99, "rejected %d of %d mutations", rejected, total)
}

func TestDigitsOnly(t *testing.T) {
	assert.Equal(t, "5511987654321", DigitsOnly("+55 (11) 98765-4321"))
	assert.Equal(t, "", DigitsOnly("---"))
}
