package extract

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openbizdata/dircrawler/internal/crawler"
)

func TestNormalizePhone(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "nine digits gains country code", in: "901234567", want: "+84901234567"},
		{name: "leading zero replaced", in: "0901234567", want: "+84901234567"},
		{name: "formatted number", in: "(090) 123-4567", want: "+84901234567"},
		{name: "already e164", in: "+84901234567", want: "+84901234567"},
		{name: "country code without plus", in: "84901234567", want: "+84901234567"},
		{name: "long international kept", in: "442071234567", want: "+442071234567"},
		{name: "too short", in: "12345", want: ""},
		{name: "garbage", in: "call us!", want: ""},
		{name: "empty", in: "", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, NormalizePhone(tt.in))
		})
	}
}

func TestExtractEmails(t *testing.T) {
	t.Parallel()

	html := `<html><body>
		<a href="mailto:info@acme.vn">info@acme.vn</a>
		<p>sales@acme.vn or INFO@ACME.VN</p>
		<img src="logo@2x.png" alt="banner@acme.vn.jpg">
		<span>noreply@acme.vn</span>
		<span>test@example.com</span>
		<span>support@acme.vn</span>
		<span>fourth@acme.vn</span>
	</body></html>`

	emails := ExtractEmails(html)
	require.Equal(t, []string{"info@acme.vn", "sales@acme.vn", "support@acme.vn"}, emails,
		"dedup is case-insensitive, false positives drop, and the page caps at three")
}

func TestExtractEmailsEmptyPage(t *testing.T) {
	t.Parallel()
	require.Empty(t, ExtractEmails("<html><body>no contact info</body></html>"))
}

func TestCompanyDetailsExtraction(t *testing.T) {
	t.Parallel()

	html := `<html><body>
		<h1 class="company-title"> Acme Trading Co </h1>
		<div class="company-address">12 Nguyen Hue, District 1</div>
		<div class="company-phone"><a href="tel:0901234567">090 123 4567</a></div>
		<div class="company-website"><a href="https://acme.vn">acme.vn</a></div>
		<div class="social-links">
			<a href="https://facebook.com/acmevn">fb</a>
			<a href="https://www.linkedin.com/company/acme">in</a>
			<a href="https://youtube.com/@acme">yt</a>
		</div>
	</body></html>`

	page := crawler.DetailPage{
		ID:          5,
		CompanyName: "fallback name",
		URL:         "https://example.com/c/acme",
		Industry:    "Retail",
		HTML:        html,
	}
	details, err := CompanyDetails(page, DefaultDetailSelectors())
	require.NoError(t, err)

	require.Equal(t, int64(5), details.DetailID)
	require.Equal(t, "Acme Trading Co", details.Name)
	require.Equal(t, "12 Nguyen Hue, District 1", details.Address)
	require.Equal(t, "+84901234567", details.Phone)
	require.Equal(t, "https://acme.vn", details.Website)
	require.Equal(t, "https://facebook.com/acmevn", details.Facebook)
	require.Equal(t, "https://www.linkedin.com/company/acme", details.LinkedIn)
	require.Equal(t, "https://youtube.com/@acme", details.YouTube)
	require.Empty(t, details.Instagram)
}

func TestCompanyDetailsFallbacks(t *testing.T) {
	t.Parallel()

	html := `<html><body>
		<div class="contact-info"><p class="address">Hidden Alley 3</p></div>
	</body></html>`

	page := crawler.DetailPage{ID: 1, CompanyName: "Known Name", URL: "https://example.com/c/x", HTML: html}
	details, err := CompanyDetails(page, DefaultDetailSelectors())
	require.NoError(t, err)

	require.Equal(t, "Known Name", details.Name, "listing name backfills a missing title")
	require.Equal(t, "Hidden Alley 3", details.Address, "fallback selector is consulted")
	require.Empty(t, details.Phone)
}
