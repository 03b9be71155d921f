// Package tasks implements the pipeline steps behind every broker operation.
// Steps are small, idempotent units; the queue runner delivers them at least
// once and in order, so each step tolerates re-execution after a crash.
package tasks

import "github.com/cloud-gov/external-domain-broker/internal/models"

// Step names. A job carries the ordered list for its operation; the names
// are persisted in Redis, so renaming one is a breaking change for in-flight
// operations.
const (
	StepRegisterACMEAccount = "register-acme-account"
	StepCreateCertificate   = "create-certificate"
	StepInitiateChallenges  = "initiate-challenges"
	StepUpdateTXTRecords    = "update-txt-records"
	StepAnswerChallenges    = "answer-challenges"
	StepRetrieveCertificate = "retrieve-certificate"
	StepUploadCertificate   = "upload-certificate"

	StepSelectALB         = "select-alb"
	StepAttachCertificate = "attach-certificate"

	StepCreateWebACL        = "create-web-acl"
	StepCreateDistribution  = "create-distribution"
	StepUpdateDistribution  = "update-distribution"
	StepWaitForDistribution = "wait-for-distribution"
	StepSyncHealthChecks    = "sync-health-checks"
	StepAssociateShield     = "associate-shield-health-check"

	StepCreateAliasRecords   = "create-alias-records"
	StepActivateCertificate  = "activate-certificate"
	StepRemoveOldCertificate = "remove-old-certificate"

	StepRemoveAliasRecords    = "remove-alias-records"
	StepRemoveTXTRecords      = "remove-txt-records"
	StepDetachCertificate     = "detach-certificate"
	StepDisableDistribution   = "disable-distribution"
	StepWaitForDisabled       = "wait-for-distribution-disabled"
	StepDeleteDistribution    = "delete-distribution"
	StepDisassociateShield    = "disassociate-shield-health-check"
	StepDeleteHealthChecks    = "delete-health-checks"
	StepDeleteWebACL          = "delete-web-acl"
	StepDeleteIAMCertificates = "delete-iam-certificates"
	StepDeactivateInstance    = "deactivate-instance"
)

// stepDescriptions are the tenant-visible progress messages surfaced through
// last_operation while the named step runs.
var stepDescriptions = map[string]string{
	StepRegisterACMEAccount: "Registering user for Lets Encrypt",
	StepCreateCertificate:   "Creating private key and CSR",
	StepInitiateChallenges:  "Initiating challenges with Lets Encrypt",
	StepUpdateTXTRecords:    "Updating DNS TXT records",
	StepAnswerChallenges:    "Answering the challenges",
	StepRetrieveCertificate: "Retrieving SSL certificate from Lets Encrypt",
	StepUploadCertificate:   "Uploading SSL certificate to AWS",

	StepSelectALB:         "Selecting load balancer",
	StepAttachCertificate: "Adding SSL certificate to load balancer",

	StepCreateWebACL:        "Creating custom WAFv2 web ACL",
	StepCreateDistribution:  "Creating CloudFront distribution",
	StepUpdateDistribution:  "Updating CloudFront distribution",
	StepWaitForDistribution: "Waiting for CloudFront distribution",
	StepSyncHealthChecks:    "Updating health checks",
	StepAssociateShield:     "Associating health check with Shield",

	StepCreateAliasRecords:   "Creating DNS ALIAS records",
	StepActivateCertificate:  "Activating new SSL certificate",
	StepRemoveOldCertificate: "Removing old SSL certificate",

	StepRemoveAliasRecords:    "Removing DNS ALIAS records",
	StepRemoveTXTRecords:      "Removing DNS TXT records",
	StepDetachCertificate:     "Removing SSL certificate from load balancer",
	StepDisableDistribution:   "Disabling CloudFront distribution",
	StepWaitForDisabled:       "Waiting for CloudFront distribution to disable",
	StepDeleteDistribution:    "Deleting CloudFront distribution",
	StepDisassociateShield:    "Disassociating health check from Shield",
	StepDeleteHealthChecks:    "Deleting health checks",
	StepDeleteWebACL:          "Deleting custom WAFv2 web ACL",
	StepDeleteIAMCertificates: "Removing SSL certificates from AWS",
	StepDeactivateInstance:    "Deactivating instance",
}

// Description returns the tenant-visible message for a step.
func Description(step string) string {
	if d, ok := stepDescriptions[step]; ok {
		return d
	}
	return step
}

func issuanceSteps(register bool) []string {
	steps := []string{
		StepCreateCertificate,
		StepInitiateChallenges,
		StepUpdateTXTRecords,
		StepAnswerChallenges,
		StepRetrieveCertificate,
		StepUploadCertificate,
	}
	if register {
		return append([]string{StepRegisterACMEAccount}, steps...)
	}
	return steps
}

// ProvisionSteps builds the pipeline for a fresh instance.
func ProvisionSteps(kind models.InstanceKind) []string {
	steps := issuanceSteps(true)
	switch kind {
	case models.KindALB:
		steps = append(steps,
			StepSelectALB,
			StepAttachCertificate,
			StepCreateAliasRecords,
			StepActivateCertificate,
		)
	case models.KindCDN:
		steps = append(steps,
			StepCreateDistribution,
			StepWaitForDistribution,
			StepCreateAliasRecords,
			StepActivateCertificate,
		)
	case models.KindCDNDedicatedWAF:
		steps = append(steps,
			StepCreateWebACL,
			StepCreateDistribution,
			StepWaitForDistribution,
			StepCreateAliasRecords,
			StepSyncHealthChecks,
			StepAssociateShield,
			StepActivateCertificate,
		)
	}
	return steps
}

// UpdateSteps builds the pipeline for an update. issueCert is false when the
// requested changes do not require a new certificate, in which case the
// issuance phase is skipped entirely.
func UpdateSteps(kind models.InstanceKind, issueCert bool) []string {
	var steps []string
	if issueCert {
		steps = issuanceSteps(false)
	}
	switch kind {
	case models.KindALB:
		if issueCert {
			steps = append(steps, StepAttachCertificate)
		}
		steps = append(steps,
			StepCreateAliasRecords,
			StepActivateCertificate,
			StepRemoveOldCertificate,
		)
	case models.KindCDN:
		steps = append(steps,
			StepUpdateDistribution,
			StepWaitForDistribution,
			StepCreateAliasRecords,
			StepActivateCertificate,
			StepRemoveOldCertificate,
		)
	case models.KindCDNDedicatedWAF:
		steps = append(steps,
			StepUpdateDistribution,
			StepWaitForDistribution,
			StepCreateAliasRecords,
			StepSyncHealthChecks,
			StepAssociateShield,
			StepActivateCertificate,
			StepRemoveOldCertificate,
		)
	}
	return steps
}

// RenewSteps builds the pipeline that rotates an instance's certificate.
func RenewSteps(kind models.InstanceKind) []string {
	steps := issuanceSteps(true)
	switch kind {
	case models.KindALB:
		steps = append(steps, StepAttachCertificate)
	case models.KindCDN, models.KindCDNDedicatedWAF:
		steps = append(steps, StepUpdateDistribution, StepWaitForDistribution)
	}
	return append(steps, StepActivateCertificate, StepRemoveOldCertificate)
}

// DeprovisionSteps builds the teardown pipeline.
func DeprovisionSteps(kind models.InstanceKind) []string {
	steps := []string{StepRemoveAliasRecords, StepRemoveTXTRecords}
	switch kind {
	case models.KindALB:
		steps = append(steps, StepDetachCertificate)
	case models.KindCDN:
		steps = append(steps,
			StepDisableDistribution,
			StepWaitForDisabled,
			StepDeleteDistribution,
		)
	case models.KindCDNDedicatedWAF:
		steps = append(steps,
			StepDisassociateShield,
			StepDeleteHealthChecks,
			StepDisableDistribution,
			StepWaitForDisabled,
			StepDeleteDistribution,
			StepDeleteWebACL,
		)
	}
	return append(steps, StepDeleteIAMCertificates, StepDeactivateInstance)
}
