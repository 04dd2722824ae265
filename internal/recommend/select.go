package recommend

import (
	"math/rand/v2"
	"slices"
	"sort"
	"strings"

	"github.com/abgdnv/tarpets/internal/cart"
	"github.com/abgdnv/tarpets/internal/catalog"
)

const (
	// MaxRecommendations is the size of a full recommendation set.
	MaxRecommendations = 4
	// minCartCandidates is the smallest category-matched set shown before falling back to the catalog head.
	minCartCandidates = 2
)

// PetCounts maps a pet type label to the number of pets of that type.
type PetCounts map[string]int

// selectForCart picks up to four catalog products sharing a category with the cart and not in it.
// With fewer than two such candidates it returns the first four catalog products instead.
func selectForCart(rnd *rand.Rand, items []cart.Item, products []catalog.Product) (out []catalog.Product, fallback bool) {
	categories := make(map[string]struct{}, len(items))
	inCart := make(map[int64]struct{}, len(items))
	for _, it := range items {
		categories[it.Category] = struct{}{}
		inCart[it.ID] = struct{}{}
	}

	var candidates []catalog.Product
	for _, p := range products {
		if _, ok := categories[p.Category]; !ok {
			continue
		}
		if _, ok := inCart[p.ID]; ok {
			continue
		}
		candidates = append(candidates, p)
	}
	shuffle(rnd, candidates)
	candidates = head(candidates, MaxRecommendations)

	if len(candidates) < minCartCandidates {
		return slices.Clone(head(products, MaxRecommendations)), true
	}
	return candidates, false
}

// matchesPetType reports whether category and petType contain one another, ignoring case.
func matchesPetType(category, petType string) bool {
	if category == "" {
		return false
	}
	c, t := strings.ToLower(category), strings.ToLower(petType)
	return strings.Contains(c, t) || strings.Contains(t, c)
}

// selectForPets spreads four picks as evenly as possible over the pet types. Each type gets
// 4/n picks from the products matching it; the remainder goes one each to randomly chosen types.
// Products are never picked twice. Missing picks are backfilled from products whose category
// contains any of the pet types.
func selectForPets(rnd *rand.Rand, counts PetCounts, products []catalog.Product) []catalog.Product {
	types := make([]string, 0, len(counts))
	for t := range counts {
		types = append(types, t)
	}
	if len(types) == 0 {
		return nil
	}
	sort.Strings(types)

	byType := make(map[string][]catalog.Product, len(types))
	for _, p := range products {
		for _, t := range types {
			if matchesPetType(p.Category, t) {
				byType[t] = append(byType[t], p)
			}
		}
	}

	base := MaxRecommendations / len(types)
	remainder := MaxRecommendations - base*len(types)
	quota := make(map[string]int, len(types))
	for _, t := range types {
		quota[t] = base
	}
	lucky := slices.Clone(types)
	shuffle(rnd, lucky)
	for _, t := range lucky[:remainder] {
		quota[t]++
	}

	selected := make([]catalog.Product, 0, MaxRecommendations)
	used := make(map[int64]struct{}, MaxRecommendations)
	for _, t := range types {
		pool := byType[t]
		shuffle(rnd, pool)
		taken := 0
		for _, p := range pool {
			if taken == quota[t] {
				break
			}
			if _, dup := used[p.ID]; dup {
				continue
			}
			selected = append(selected, p)
			used[p.ID] = struct{}{}
			taken++
		}
	}

	if len(selected) < MaxRecommendations {
		var backfill []catalog.Product
		for _, p := range products {
			if _, dup := used[p.ID]; dup {
				continue
			}
			category := strings.ToLower(p.Category)
			if slices.ContainsFunc(types, func(t string) bool {
				return category != "" && strings.Contains(category, strings.ToLower(t))
			}) {
				backfill = append(backfill, p)
			}
		}
		shuffle(rnd, backfill)
		for _, p := range backfill {
			if len(selected) == MaxRecommendations {
				break
			}
			selected = append(selected, p)
			used[p.ID] = struct{}{}
		}
	}
	return head(selected, MaxRecommendations)
}

// PetCountsFromProfile counts pets by trimmed type. A pet without a type counts as "Unknown" and
// a blank type is skipped. Profiles without pets fall back to the legacy petType and petCount
// fields, with the count defaulting to 1.
func PetCountsFromProfile(profile *catalog.UserProfile) PetCounts {
	counts := PetCounts{}
	if profile == nil {
		return counts
	}
	if len(profile.Pets) > 0 {
		for _, pet := range profile.Pets {
			t := "Unknown"
			if pet.Type != nil && *pet.Type != "" {
				t = *pet.Type
			}
			t = strings.TrimSpace(t)
			if t == "" {
				continue
			}
			counts[t]++
		}
		return counts
	}
	if t := strings.TrimSpace(profile.PetType); t != "" {
		n := 1
		if profile.PetCount != nil && *profile.PetCount > 0 {
			n = *profile.PetCount
		}
		counts[t] = n
	}
	return counts
}

func shuffle[T any](rnd *rand.Rand, s []T) {
	rnd.Shuffle(len(s), func(i, j int) { s[i], s[j] = s[j], s[i] })
}

func head[T any](s []T, n int) []T {
	if len(s) > n {
		return s[:n]
	}
	return s
}
