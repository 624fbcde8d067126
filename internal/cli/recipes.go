package cli

import (
	"fmt"
	"os"

	"github.com/roach88/qrecall/internal/recipe"
)

// loadRecipes loads a recipe file, or every recipe of the CUE package in a
// directory.
func loadRecipes(path string) ([]recipe.Recipe, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return recipe.LoadDir(path)
	}
	return recipe.LoadFile(path)
}

// selectRecipe picks the recipe called name. An empty name is allowed when
// exactly one recipe was loaded.
func selectRecipe(recipes []recipe.Recipe, name string) (recipe.Recipe, error) {
	if name != "" {
		return recipe.Find(recipes, name)
	}
	if len(recipes) != 1 {
		names := make([]string, 0, len(recipes))
		for _, r := range recipes {
			names = append(names, r.Name)
		}
		return recipe.Recipe{}, fmt.Errorf("%d recipes loaded %v, pick one with --recipe", len(recipes), names)
	}
	return recipes[0], nil
}
