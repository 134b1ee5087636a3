package slug

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCategory_Shortcuts(t *testing.T) {
	assert.Equal(t, "tech", Category("Technology"))
	assert.Equal(t, "tech", Category("bilgi teknolojisi"))
	assert.Equal(t, "tech", Category("  BT "))
	assert.Equal(t, "finance", Category("Finans"))
	assert.Equal(t, "healthcare", Category("sağlık"))
}

func TestCategory_Generic(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Renewable Energy", "renewable_energy"},
		{"eğlence ve medya", "eglence_ve_medya"},
		{"Güvenlik Hizmetleri", "guvenlik_hizmetleri"},
		{"Food & Beverage", "food_beverage"},
		{"real-estate", "real_estate"},
		{"", "category"},
		{"!!!", "category"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Category(tt.in), "input %q", tt.in)
	}
}

func TestTableNames(t *testing.T) {
	assert.Equal(t, "tech_leads", LeadsTable("Technology"))
	assert.Equal(t, "tech_ai_filter", FilterTable("Technology"))
	assert.Equal(t, "renewable_energy_ai_filter", FilterTable("Renewable Energy"))
}

func TestCategory_Deterministic(t *testing.T) {
	a := Category("Yazılım Geliştirme")
	b := Category("Yazılım Geliştirme")
	assert.Equal(t, a, b)
	assert.Equal(t, "yazilim_gelistirme", a)
}
