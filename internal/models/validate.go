package models

import (
	"fmt"

	"github.com/dmitrijs2005/entrysync/internal/common"
)

// Validator checks variant specific invariants before a mutation is accepted.
type Validator func(Attributes) error

var validators = map[EntryType]Validator{
	EntryTypeSpace:    validateSpace,
	EntryTypePage:     validateNamed,
	EntryTypeChannel:  validateNamed,
	EntryTypeChat:     validateChat,
	EntryTypeDatabase: validateNamedChild,
	EntryTypeFolder:   validateNamedChild,
	EntryTypeRecord:   validateChild,
	EntryTypeField:    validateField,
	EntryTypeView:     validateNamedChild,
	EntryTypeFile:     validateNamedChild,
	EntryTypeMessage:  validateChild,
}

// Validate runs the validator registered for the variant of a.
func Validate(a Attributes) error {
	if a == nil {
		return fmt.Errorf("%w: nil attributes", common.ErrInvalidEntry)
	}
	v, ok := validators[a.EntryType()]
	if !ok {
		return fmt.Errorf("%w: %q", common.ErrInvalidEntryType, a.EntryType())
	}
	if err := validateRoles(a); err != nil {
		return err
	}
	return v(a)
}

func invalid(a Attributes, msg string) error {
	return fmt.Errorf("%w: %s %s", common.ErrInvalidEntry, a.EntryType(), msg)
}

func validateRoles(a Attributes) error {
	for user, role := range Collaborators(a) {
		if user == "" || !role.Valid() {
			return invalid(a, fmt.Sprintf("has invalid collaborator %q=%q", user, role))
		}
	}
	return nil
}

func validateSpace(a Attributes) error {
	if a.Parent() != "" {
		return invalid(a, "cannot have a parent")
	}
	if len(Collaborators(a)) == 0 {
		return invalid(a, "needs at least one collaborator")
	}
	return validateNamed(a)
}

func validateChat(a Attributes) error {
	if a.Parent() != "" {
		return invalid(a, "cannot have a parent")
	}
	if len(Collaborators(a)) == 0 {
		return invalid(a, "needs at least one collaborator")
	}
	return nil
}

func validateNamed(a Attributes) error {
	var name string
	switch v := a.(type) {
	case *SpaceAttributes:
		name = v.Name
	case *PageAttributes:
		name = v.Name
	case *ChannelAttributes:
		name = v.Name
	case *DatabaseAttributes:
		name = v.Name
	case *FolderAttributes:
		name = v.Name
	case *ViewAttributes:
		name = v.Name
	case *FileAttributes:
		name = v.Name
	case *FieldAttributes:
		name = v.Name
	}
	if name == "" {
		return invalid(a, "name is required")
	}
	return nil
}

func validateChild(a Attributes) error {
	if a.Parent() == "" {
		return invalid(a, "parent is required")
	}
	return nil
}

func validateNamedChild(a Attributes) error {
	if err := validateChild(a); err != nil {
		return err
	}
	return validateNamed(a)
}

func validateField(a Attributes) error {
	if err := validateNamedChild(a); err != nil {
		return err
	}
	if a.(*FieldAttributes).DataType == "" {
		return invalid(a, "data type is required")
	}
	return nil
}
