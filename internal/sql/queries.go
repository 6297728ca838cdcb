package sql

import "embed"

// Migrations holds the schema DDL, applied in filename order by
// db.ApplyMigrations.
//
//go:embed migrations
var Migrations embed.FS

// Batch run lifecycle.

//go:embed queries/open_batch.sql
var OpenBatch string

//go:embed queries/lookup_batch.sql
var LookupBatch string

//go:embed queries/reopen_batch.sql
var ReopenBatch string

//go:embed queries/heartbeat_batch.sql
var HeartbeatBatch string

//go:embed queries/finalize_batch.sql
var FinalizeBatch string

//go:embed queries/sweep_stale.sql
var SweepStale string

//go:embed queries/delete_batch_tasks.sql
var DeleteBatchTasks string

//go:embed queries/delete_batch_run.sql
var DeleteBatchRun string

// Task run lifecycle.

//go:embed queries/begin_task.sql
var BeginTask string

//go:embed queries/mark_task_retrying.sql
var MarkTaskRetrying string

//go:embed queries/finish_task.sql
var FinishTask string

//go:embed queries/list_tasks.sql
var ListTasks string

// Facts and reconciliation.

//go:embed queries/upsert_intervention.sql
var UpsertIntervention string

//go:embed queries/interventions_for_appt.sql
var InterventionsForAppt string

//go:embed queries/appointments_for_clinic_date.sql
var AppointmentsForClinicDate string

//go:embed queries/candidate_lines.sql
var CandidateLines string

//go:embed queries/lines_for_invoice.sql
var LinesForInvoice string

//go:embed queries/update_line_match.sql
var UpdateLineMatch string

//go:embed queries/update_intervention_match.sql
var UpdateInterventionMatch string

//go:embed queries/upsert_link.sql
var UpsertLink string

//go:embed queries/get_link.sql
var GetLink string

//go:embed queries/links_for_clinic.sql
var LinksForClinic string

//go:embed queries/service_code_map.sql
var ServiceCodeMap string

// Clinics.

//go:embed queries/get_clinic.sql
var GetClinic string

//go:embed queries/list_clinics.sql
var ListClinics string

//go:embed queries/upsert_clinic.sql
var UpsertClinic string

// Ingestion.

//go:embed queries/register_pims_file.sql
var RegisterPIMSFile string

//go:embed queries/lookup_pims_file.sql
var LookupPIMSFile string

//go:embed queries/update_pims_status.sql
var UpdatePIMSStatus string

//go:embed queries/promote_headers.sql
var PromoteHeaders string

//go:embed queries/promote_lines.sql
var PromoteLines string

//go:embed queries/delete_staging_batch.sql
var DeleteStagingBatch string
