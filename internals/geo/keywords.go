package geo

import (
	"strings"

	"github.com/thebowwman/delisim/internals/config"
	"github.com/thebowwman/delisim/internals/domain"
)

// Keyword maps a set of substrings to a fixed coordinate. All substrings must
// occur in the lower-cased address.
type Keyword struct {
	Match []string
	At    domain.Coordinate
}

func (k Keyword) matches(addr string) bool {
	if len(k.Match) == 0 {
		return false
	}
	for _, m := range k.Match {
		if !strings.Contains(addr, m) {
			return false
		}
	}
	return true
}

// KeywordTable is an ordered table; the first matching row wins.
type KeywordTable []Keyword

// Lookup returns the coordinate of the first row matching address.
func (t KeywordTable) Lookup(address string) (domain.Coordinate, bool) {
	addr := strings.ToLower(address)
	for _, k := range t {
		if k.matches(addr) {
			return k.At, true
		}
	}
	return domain.Coordinate{}, false
}

// KeywordTableFromConfig builds a table from configured rows, or returns the
// built-in Greater Tunis table when none are configured.
func KeywordTableFromConfig(rows []config.KeywordConfig) KeywordTable {
	if len(rows) == 0 {
		return DefaultKeywords
	}
	t := make(KeywordTable, 0, len(rows))
	for _, r := range rows {
		match := make([]string, 0, len(r.Match))
		for _, m := range r.Match {
			if m = strings.ToLower(strings.TrimSpace(m)); m != "" {
				match = append(match, m)
			}
		}
		t = append(t, Keyword{Match: match, At: domain.Coordinate{Lat: r.Lat, Lng: r.Lng}})
	}
	return t
}

func kw(lat, lng float64, match ...string) Keyword {
	return Keyword{Match: match, At: domain.Coordinate{Lat: lat, Lng: lng}}
}

// DefaultKeywords covers Greater Tunis neighborhoods and the major cities.
// More specific rows come before the generic ones they overlap with.
var DefaultKeywords = KeywordTable{
	// Ben Arous
	kw(36.7405, 10.1927, "mourouj"),
	kw(36.7678, 10.2333, "mégrine"),
	kw(36.7678, 10.2333, "megrine"),
	kw(36.7694, 10.2756, "radès"),
	kw(36.7694, 10.2756, "rades"),
	kw(36.7306, 10.3361, "hammam lif"),
	kw(36.7469, 10.3058, "ezzahra"),
	kw(36.7469, 10.3058, "zahra"),
	kw(36.7042, 10.1433, "fouchana"),
	kw(36.7472, 10.2333, "ben arous"),
	kw(36.7267, 10.1942, "bou mhel"),
	kw(36.7578, 10.1758, "nouvelle medina"),

	// Tunis
	kw(36.8325, 10.2167, "lac", "1"),
	kw(36.8467, 10.2342, "lac", "2"),
	kw(36.8325, 10.2167, "lac"),
	kw(36.8775, 10.3242, "marsa"),
	kw(36.8528, 10.3306, "carthage"),
	kw(36.8685, 10.3472, "sidi bou"),
	kw(36.9106, 10.2906, "gammarth"),
	kw(36.8183, 10.3053, "goulette"),
	kw(36.8331, 10.2917, "kram"),
	kw(36.8439, 10.2353, "aouina"),
	kw(36.8085, 10.1358, "bardo"),
	kw(36.8283, 10.1583, "menzah"),
	kw(36.8300, 10.1500, "manar"),
	kw(36.8400, 10.1700, "ennasr"),
	kw(36.8206, 10.1453, "omrane"),
	kw(36.8189, 10.1553, "ain zaghouan"),
	kw(36.7986, 10.1708, "médina"),
	kw(36.7986, 10.1708, "medina"),

	// Ariana
	kw(36.8620, 10.1867, "ariana ville"),
	kw(36.8620, 10.1867, "ariana centre"),
	kw(36.8667, 10.1667, "ariana"),
	kw(36.9458, 10.1931, "raoued"),
	kw(36.8903, 10.1931, "soukra"),
	kw(36.8314, 10.1206, "mnihla"),
	kw(36.8272, 10.0956, "ettadhamen"),
	kw(36.8917, 10.1833, "ghazela"),

	// Manouba
	kw(36.8081, 10.0992, "manouba"),
	kw(36.8025, 10.0878, "denden"),
	kw(36.7931, 10.0586, "oued ellil"),
	kw(36.7794, 10.0350, "douar hicher"),

	// Other cities
	kw(35.8288, 10.6083, "sousse"),
	kw(34.7406, 10.7603, "sfax"),
	kw(35.7833, 10.8333, "monastir"),
	kw(35.5047, 11.0622, "mahdia"),
	kw(36.4561, 10.7350, "nabeul"),
	kw(36.4000, 10.6167, "hammamet"),
	kw(37.2744, 9.8739, "bizerte"),
	kw(35.6781, 10.1006, "kairouan"),
	kw(33.8881, 10.0975, "gabès"),
	kw(33.8881, 10.0975, "gabes"),
}
