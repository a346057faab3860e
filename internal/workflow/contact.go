package workflow

import (
	"github.com/foxzi/campaignd/internal/models"
)

// Contact data keys shared by the dispatcher, the API and the processors
const (
	KeyCustomerName  = "customerName"
	KeyCustomerEmail = "customerEmail"
	KeyCustomerPhone = "customerPhone"
	KeyEmail         = "email"
	KeyPhone         = "phone"
	KeyLeadID        = "leadId"
	KeyCustomerID    = "customerId"
)

// ContactData builds the contact snapshot stored on an execution.
// Either argument may be nil.
func ContactData(c *models.Customer, l *models.Lead) models.JSONMap {
	data := models.JSONMap{}
	set := func(key, value string) {
		if value != "" {
			data[key] = value
		}
	}

	if c != nil {
		set(KeyCustomerID, c.ID)
		set(KeyCustomerName, c.FullName())
		set("firstName", c.FirstName)
		set("lastName", c.LastName)
		set(KeyCustomerEmail, c.Email)
		set(KeyCustomerPhone, c.Phone)
		set("address", c.Address)
		set("city", c.City)
		set("state", c.State)
		set("zipCode", c.ZipCode)
	}
	if l != nil {
		set(KeyLeadID, l.ID)
		set("leadStatus", l.LeadStatus)
		set("pestType", l.PestType)
		set("urgency", l.Urgency)
		set("homeSize", l.HomeSize)
		set("leadSource", l.Source)
		if c == nil {
			set(KeyCustomerID, l.CustomerID)
		}
	}
	return data
}
