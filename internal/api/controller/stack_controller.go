package controller

import (
	"fmt"

	"github.com/bassista/go_leaf/internal/page"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

// StackStore is the stack side of the document.
type StackStore interface {
	Stacks() []page.Stack
	AddStack(stack page.Stack) (page.Stack, error)
}

// StackCrudService implements CrudService for stacks. Stacks are only
// listed and upserted; pages leave a stack through DELETE /page.
type StackCrudService struct {
	Store StackStore
}

func (s *StackCrudService) All() ([]page.Stack, error) {
	return s.Store.Stacks(), nil
}

func (s *StackCrudService) Add(_ *gin.Context, stack page.Stack) (page.Stack, error) {
	return s.Store.AddStack(stack)
}

func (s *StackCrudService) Remove(name string) (page.Stack, error) {
	return page.Stack{}, fmt.Errorf("%w: stacks cannot be removed", page.ErrInvalidSpec)
}

// StackCrudValidator implements CrudValidator for stacks.
type StackCrudValidator struct {
	validator *validator.Validate
}

func (v *StackCrudValidator) Validate(stack page.Stack) error {
	return v.validator.Struct(stack)
}

// NewStackController creates the CRUD controller for stacks.
func NewStackController(store StackStore) *CrudController[page.Stack] {
	return &CrudController[page.Stack]{
		Component: "stack-controller",
		Service:   &StackCrudService{Store: store},
		Validator: &StackCrudValidator{validator: validator.New()},
	}
}
