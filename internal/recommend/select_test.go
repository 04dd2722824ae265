package recommend

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/abgdnv/tarpets/internal/cart"
	"github.com/abgdnv/tarpets/internal/catalog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seeded(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

func prod(id int64, category string) catalog.Product {
	return catalog.Product{ID: id, Name: fmt.Sprintf("p%d", id), Price: decimal.NewFromInt(10), Category: category}
}

func item(id int64, category string) cart.Item {
	return cart.Item{ID: id, Category: category, Price: decimal.NewFromInt(10), Quantity: 1}
}

func ids(products []catalog.Product) []int64 {
	out := make([]int64, 0, len(products))
	for _, p := range products {
		out = append(out, p.ID)
	}
	return out
}

var cartCatalog = []catalog.Product{
	prod(1, "Cat Food"), prod(2, "Cat Food"), prod(3, "Cat Food"), prod(4, "Cat Toys"),
	prod(5, "Dog Food"), prod(6, "Dog Food"), prod(7, "Bird Seed"), prod(8, "Cat Food"), prod(9, "Cat Food"),
}

func TestSelectForCart(t *testing.T) {
	testCases := []struct {
		name         string
		cart         []cart.Item
		wantFallback bool
		wantLen      int
		wantExact    []int64
	}{
		{name: "two candidates", cart: []cart.Item{item(1, "Cat Food"), item(8, "Cat Food"), item(9, "Cat Food"), item(4, "Cat Toys")}, wantLen: 2},
		{name: "four candidates", cart: []cart.Item{item(1, "Cat Food")}, wantLen: 4},
		{name: "more than four candidates", cart: []cart.Item{item(1, "Cat Food"), item(5, "Dog Food")}, wantLen: 4},
		{name: "one candidate falls back", cart: []cart.Item{item(5, "Dog Food")}, wantFallback: true, wantExact: []int64{1, 2, 3, 4}},
		{name: "no candidates falls back", cart: []cart.Item{item(7, "Bird Seed")}, wantFallback: true, wantExact: []int64{1, 2, 3, 4}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			inCart := map[int64]bool{}
			categories := map[string]bool{}
			for _, it := range tc.cart {
				inCart[it.ID] = true
				categories[it.Category] = true
			}

			for seed := range uint64(25) {
				// when
				out, fallback := selectForCart(seeded(seed), tc.cart, cartCatalog)

				// then
				require.Equal(t, tc.wantFallback, fallback)
				require.LessOrEqual(t, len(out), MaxRecommendations)
				if tc.wantExact != nil {
					require.Equal(t, tc.wantExact, ids(out))
					continue
				}
				require.Len(t, out, tc.wantLen)
				seen := map[int64]bool{}
				for _, p := range out {
					assert.False(t, inCart[p.ID], "product %d is already in the cart", p.ID)
					assert.True(t, categories[p.Category], "product %d does not share a category", p.ID)
					assert.False(t, seen[p.ID], "duplicate product %d", p.ID)
					seen[p.ID] = true
				}
			}
		})
	}
}

func TestSelectForCart_DoesNotMutateCatalog(t *testing.T) {
	products := []catalog.Product{prod(1, "A"), prod(2, "A"), prod(3, "A"), prod(4, "A"), prod(5, "A")}
	before := ids(products)

	out, _ := selectForCart(seeded(7), []cart.Item{item(1, "A")}, products)
	out[0].Name = "changed"

	assert.Equal(t, before, ids(products))
}

func TestSelectForCart_IsRandomized(t *testing.T) {
	items := []cart.Item{item(1, "Cat Food"), item(5, "Dog Food")}
	distinct := map[string]bool{}
	for seed := range uint64(40) {
		out, _ := selectForCart(seeded(seed), items, cartCatalog)
		distinct[fmt.Sprint(ids(out))] = true
	}
	assert.Greater(t, len(distinct), 1)
}

func TestSelectForCart_SameSeedSameOutput(t *testing.T) {
	items := []cart.Item{item(1, "Cat Food"), item(5, "Dog Food")}
	a, _ := selectForCart(seeded(3), items, cartCatalog)
	b, _ := selectForCart(seeded(3), items, cartCatalog)
	assert.Equal(t, ids(a), ids(b))
}

var petCatalog = []catalog.Product{
	prod(1, "Cat Food"), prod(2, "Cat Food"), prod(3, "Cat Toys"), prod(4, "Cat Litter"),
	prod(5, "Dog Food"), prod(6, "Dog Toys"), prod(7, "Dog Beds"),
	prod(8, "Bird Seed"), prod(9, "Fish Tanks"), prod(10, ""),
}

func matchesAny(p catalog.Product, counts PetCounts) bool {
	for t := range counts {
		if matchesPetType(p.Category, t) {
			return true
		}
	}
	return false
}

func TestSelectForPets_CatAndDog(t *testing.T) {
	counts := PetCounts{"cat": 1, "dog": 1}

	for seed := range uint64(50) {
		// when
		out := selectForPets(seeded(seed), counts, petCatalog)

		// then
		require.Len(t, out, 4)
		cats, dogs := 0, 0
		seen := map[int64]bool{}
		for _, p := range out {
			require.False(t, seen[p.ID], "duplicate product %d", p.ID)
			seen[p.ID] = true
			require.True(t, matchesAny(p, counts), "product %d matches no pet type", p.ID)
			if strings.HasPrefix(p.Category, "Cat") {
				cats++
			} else {
				dogs++
			}
		}
		assert.Equal(t, 2, cats)
		assert.Equal(t, 2, dogs)
	}
}

func TestSelectForPets_NoTypes(t *testing.T) {
	assert.Empty(t, selectForPets(seeded(1), PetCounts{}, petCatalog))
}

func TestSelectForPets_RemainderIsRandomized(t *testing.T) {
	// given: 3 types, base 1 each, one extra pick for a random type
	counts := PetCounts{"cat": 1, "dog": 2, "bird": 1}
	products := append([]catalog.Product{prod(11, "Bird Toys"), prod(12, "Bird Cages")}, petCatalog...)
	extraFor := map[string]bool{}

	for seed := range uint64(60) {
		// when
		out := selectForPets(seeded(seed), counts, products)

		// then
		require.Len(t, out, 4)
		perType := map[string]int{}
		for _, p := range out {
			perType[strings.ToLower(strings.Fields(p.Category)[0])]++
		}
		for t2, n := range perType {
			require.GreaterOrEqual(t, n, 1)
			if n == 2 {
				extraFor[t2] = true
			}
		}
		require.Len(t, perType, 3)
	}
	assert.Greater(t, len(extraFor), 1, "remainder should not always go to the same type")
}

func TestSelectForPets_OverlappingCategoriesAreNotDoubleCounted(t *testing.T) {
	// given
	counts := PetCounts{"cat": 1, "dog": 1}
	products := []catalog.Product{
		prod(1, "Cat & Dog Treats"), prod(2, "Cat & Dog Treats"),
		prod(3, "Cat Food"), prod(4, "Dog Food"),
	}

	for seed := range uint64(50) {
		// when
		out := selectForPets(seeded(seed), counts, products)

		// then
		require.Len(t, out, 4)
		assert.ElementsMatch(t, []int64{1, 2, 3, 4}, ids(out))
	}
}

func TestSelectForPets_Backfill(t *testing.T) {
	// given: no dog products, so the dog quota stays empty and cat products fill in
	counts := PetCounts{"cat": 1, "dog": 1}
	products := []catalog.Product{
		prod(1, "Cat Food"), prod(2, "Cat Food"), prod(3, "Cat Toys"), prod(4, "Cat Litter"),
		prod(5, "Cat Beds"), prod(6, "Fish Tanks"),
	}

	for seed := range uint64(30) {
		// when
		out := selectForPets(seeded(seed), counts, products)

		// then
		require.Len(t, out, 4)
		for _, p := range out {
			assert.True(t, strings.HasPrefix(p.Category, "Cat"), "backfill must be type-filtered, got %q", p.Category)
		}
	}
}

func TestSelectForPets_PoolsExhausted(t *testing.T) {
	counts := PetCounts{"hamster": 1}
	products := []catalog.Product{prod(1, "Hamster Wheels"), prod(2, "Cat Food")}

	out := selectForPets(seeded(1), counts, products)

	assert.Equal(t, []int64{1}, ids(out))
}

func Test_matchesPetType(t *testing.T) {
	testCases := []struct {
		category string
		petType  string
		want     bool
	}{
		{category: "Cat Food", petType: "cat", want: true},
		{category: "cat", petType: "Cat Food", want: true},
		{category: "CAT TOYS", petType: "Cat", want: true},
		{category: "Dog Food", petType: "cat", want: false},
		{category: "", petType: "cat", want: false},
		{category: "Fish", petType: "fish", want: true},
	}
	for _, tc := range testCases {
		t.Run(tc.category+"/"+tc.petType, func(t *testing.T) {
			assert.Equal(t, tc.want, matchesPetType(tc.category, tc.petType))
		})
	}
}

func TestPetCountsFromProfile(t *testing.T) {
	str := func(s string) *string { return &s }
	num := func(n int) *int { return &n }

	testCases := []struct {
		name    string
		profile *catalog.UserProfile
		want    PetCounts
	}{
		{name: "nil profile", profile: nil, want: PetCounts{}},
		{
			name: "pets list",
			profile: &catalog.UserProfile{Pets: []catalog.Pet{
				{Type: str("Cat")}, {Type: str(" Cat ")}, {Type: str("Dog")},
			}},
			want: PetCounts{"Cat": 2, "Dog": 1},
		},
		{
			name:    "missing type counts as unknown",
			profile: &catalog.UserProfile{Pets: []catalog.Pet{{Type: nil}, {Type: str("")}}},
			want:    PetCounts{"Unknown": 2},
		},
		{
			name:    "blank type is skipped",
			profile: &catalog.UserProfile{Pets: []catalog.Pet{{Type: str("   ")}}},
			want:    PetCounts{},
		},
		{
			name:    "legacy fields",
			profile: &catalog.UserProfile{PetType: "Bird", PetCount: num(3)},
			want:    PetCounts{"Bird": 3},
		},
		{
			name:    "legacy count defaults to one",
			profile: &catalog.UserProfile{PetType: "Bird"},
			want:    PetCounts{"Bird": 1},
		},
		{
			name:    "pets list wins over legacy fields",
			profile: &catalog.UserProfile{PetType: "Bird", Pets: []catalog.Pet{{Type: str("Cat")}}},
			want:    PetCounts{"Cat": 1},
		},
		{name: "nothing declared", profile: &catalog.UserProfile{}, want: PetCounts{}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, PetCountsFromProfile(tc.profile))
		})
	}
}
