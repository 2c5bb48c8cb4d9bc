package testutil

import (
	"github.com/roach88/patchwork/internal/mutation"
	"github.com/roach88/patchwork/internal/schema"
)

// PersonDefinition is the canonical person fixture schema.
func PersonDefinition() schema.Definition {
	return schema.Definition{
		Title: "Person",
		Properties: map[string]schema.Property{
			"id":        {Type: schema.TypeInteger},
			"nameFirst": {Type: schema.TypeString, Description: "First name"},
			"nameLast":  {Type: schema.TypeString, Description: "Last name"},
			"nameFull":  {Type: schema.TypeString, Description: "Derived full name"},
			"age":       {Type: schema.TypeInteger, Description: "Age"},
			"isRetired": {Type: schema.TypeBoolean},
			"isBlocked": {Type: schema.TypeBoolean},

			"activeCredentialsCount": {Type: schema.TypeInteger, Description: "Derived credential count"},
		},
	}
}

// PersonInstances is the canonical seed data for the person fixture.
func PersonInstances() []mutation.Instance {
	return []mutation.Instance{
		{
			"id":        int64(1),
			"nameFirst": "Rudy",
			"nameLast":  "Cruysbergs",
			"age":       int64(30),
		},
	}
}

// CredentialDefinition is the canonical credential fixture schema. The
// person link is required, which makes it the stock schema for driving
// validation failures.
func CredentialDefinition() schema.Definition {
	return schema.Definition{
		Title: "Credential",
		Properties: map[string]schema.Property{
			"id":            {Type: schema.TypeInteger},
			"person":        {Type: schema.TypeInteger, Required: true, Description: "Link to person"},
			"cardCode":      {Type: schema.TypeString, Description: "Card identifier"},
			"isBlocked":     {Type: schema.TypeBoolean},
			"isUserBlocked": {Type: schema.TypeBoolean},
		},
	}
}

// CredentialInstances is the canonical seed data for the credential
// fixture.
func CredentialInstances() []mutation.Instance {
	return []mutation.Instance{
		{
			"id":            int64(1),
			"person":        int64(1),
			"isBlocked":     false,
			"isUserBlocked": false,
		},
	}
}
