// Package cli implements gatekeeper-cli, the administration CLI for the
// gatekeeper authorization service.
//
// Every command talks to the REST API through pkg/client and accepts:
//
//	-server            server URL (GATEKEEPER_URL)
//	-user              user ID to act as (GATEKEEPER_USER)
//	-principal-header  header carrying the user ID (GATEKEEPER_PRINCIPAL_HEADER)
//	-org               organization ID (GATEKEEPER_ORG)
//	-output            table or json
//
// # Catalog
//
//	gatekeeper-cli capabilities -module builder
//	gatekeeper-cli templates
//
// # Roles
//
//	gatekeeper-cli roles -org org-1 -scope SITE
//	gatekeeper-cli create-role -org org-1 -name Publisher -scope SITE \
//		-capabilities content.view,content.publish
//	gatekeeper-cli update-role -org org-1 -role ROLE_ID -capabilities content.view
//	gatekeeper-cli delete-role -org org-1 -role ROLE_ID
//	gatekeeper-cli provision -org org-1
//
// # Policies
//
//	gatekeeper-cli policies -org org-1
//	gatekeeper-cli set-policy -org org-1 -capability builder.rollback -enabled=false
//	gatekeeper-cli reset-policy -org org-1 -capability builder.rollback
//
// # Assignments and decisions
//
//	gatekeeper-cli assign -org org-1 -assignee user-7 -role ROLE_ID -site site-3
//	gatekeeper-cli revoke -org org-1 -assignment ASSIGNMENT_ID
//	gatekeeper-cli resolve -org org-1 -for user-7 -site site-3 -allowed
//	gatekeeper-cli check -org org-1 -for user-7 -site site-3 content.publish
//
// check exits non-zero when the capability is denied.
package cli
