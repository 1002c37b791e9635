package steps

// user-facing messages, rendered with process.FormatMessage
const (
	MessageCreatingServiceKey       = `Creating service key {{ .key | quote }} for service {{ .service | quote }}...`
	MessageServiceKeyCreated        = `Service key {{ .key | quote }} for service {{ .service | quote }} created`
	MessageServiceKeyAlreadyExists  = `Service key {{ .key | quote }} for service {{ .service | quote }} already exists`
	MessageServiceKeyInProgress     = `Service key {{ .key | quote }} for service {{ .service | quote }} is being created, waiting for the last operation`
	MessageErrorCreatingServiceKey  = `Error creating service key {{ .key | quote }} for service {{ .service | quote }}`
	MessageErrorPollingServiceKey   = `Error polling creation of service key {{ .key | quote }} for service {{ .service | quote }}`
	MessageDeletingServiceKey       = `Deleting service key {{ .key | quote }} for service {{ .service | quote }}...`
	MessageErrorDeletingServiceKey  = `Error deleting service key {{ .key | quote }} for service {{ .service | quote }}`
	MessageServiceKeyAlreadyDeleted = `Service key {{ .key | quote }} for service {{ .service | quote }} is already deleted`

	MessageCreatingService       = `Creating service {{ .service | quote }}...`
	MessageUpdatingService       = `Updating service {{ .service | quote }}...`
	MessageServiceInProgress     = `Service {{ .service | quote }} has an operation in progress, waiting for it`
	MessageErrorCreatingService  = `Error creating or updating service {{ .service | quote }}`
	MessageErrorPollingService   = `Error polling last operation of service {{ .service | quote }}`
	MessageServiceOperationError = `Operation {{ .type }} of service {{ .service | quote }} failed: {{ .description }}`
	MessageDeletingService       = `Deleting service {{ .service | quote }}...`
	MessageServiceAlreadyDeleted = `Service {{ .service | quote }} is already deleted`
	MessageErrorDeletingService  = `Error deleting service {{ .service | quote }}`
	MessageIgnoringOptional      = `{{ .message }}, the resource is optional and the failure is ignored: {{ .error }}`

	MessageBindingService      = `Binding service {{ .service | quote }} to application {{ .app | quote }}...`
	MessageServiceAlreadyBound = `Service {{ .service | quote }} is already bound to application {{ .app | quote }}`
	MessageErrorBindingService = `Error binding service {{ .service | quote }} to application {{ .app | quote }}`

	MessageJobFailed       = `Job {{ .job }} for {{ .resource }} failed: {{ .errors }}`
	MessageJobNotFound     = `Job {{ .job }} for {{ .resource }} does not exist`
	MessageErrorPollingJob = `Error polling job {{ .job }} for {{ .resource }}`

	MessageCreatingApp        = `Creating application {{ .app | quote }}...`
	MessageAppCreated         = `Application {{ .app | quote }} created`
	MessageUpdatingApp        = `Updating application {{ .app | quote }}...`
	MessageAppUpdated         = `Application {{ .app | quote }} updated`
	MessageErrorCreatingApp   = `Error creating or updating application {{ .app | quote }}`
	MessageUploadingApp       = `Uploading application {{ .app | quote }}...`
	MessageAppUploaded        = `Application {{ .app | quote }} uploaded`
	MessageErrorUploadingApp  = `Error uploading application {{ .app | quote }}`
	MessageUploadFailed       = `Upload of application {{ .app | quote }} failed with package state {{ .state }}`
	MessageStagingApp         = `Staging application {{ .app | quote }}...`
	MessageAppStaged          = `Application {{ .app | quote }} staged`
	MessageErrorStagingApp    = `Error staging application {{ .app | quote }}`
	MessageStagingFailed      = `Staging of application {{ .app | quote }} failed: {{ .error }}`
	MessageStartingApp        = `Starting application {{ .app | quote }}...`
	MessageAppStarted         = `Application {{ .app | quote }} started`
	MessageAppInstances       = `{{ .running }} of {{ .total }} instances of application {{ .app | quote }} running`
	MessageErrorStartingApp   = `Error starting application {{ .app | quote }}`
	MessageAppCrashed         = `Application {{ .app | quote }} crashed`
	MessageAppStartTimedOut   = `Application {{ .app | quote }} did not start within {{ .timeout }}`
	MessageStoppingApp        = `Stopping application {{ .app | quote }}...`
	MessageAppStopped         = `Application {{ .app | quote }} stopped`
	MessageErrorStoppingApp   = `Error stopping application {{ .app | quote }}`
	MessageDeletingApp        = `Deleting application {{ .app | quote }}...`
	MessageErrorDeletingApps  = `Error deleting old applications`
	MessageRenamingApp        = `Renaming application {{ .from | quote }} to {{ .to | quote }}...`
	MessageErrorRenamingApps  = `Error renaming applications`
	MessageApplicationLog     = `[{{ .app }}] {{ .source }}: {{ .message }}`
	MessageNoArchiveForModule = `No application archive for module {{ .module | quote }}`

	MessageExecutingTask    = `Executing task {{ .task | quote }} on application {{ .app | quote }}...`
	MessageTaskSucceeded    = `Task {{ .task | quote }} on application {{ .app | quote }} succeeded`
	MessageTaskFailed       = `Task {{ .task | quote }} on application {{ .app | quote }} failed: {{ .reason }}`
	MessageErrorExecuteTask = `Error executing task {{ .task | quote }} on application {{ .app | quote }}`
	MessageErrorPollingTask = `Error polling task {{ .task | quote }} on application {{ .app | quote }}`

	MessageExecutingHook = `Executing hook {{ .hook | quote }} of module {{ .module | quote }} as task on application {{ .app | quote }}`

	MessageDetectingMta      = `Detecting deployed MTA {{ .mta | quote }}...`
	MessageDetectedMta       = `Detected deployed MTA {{ .mta | quote }} version {{ .version }} with {{ .apps }} applications`
	MessageNoDeployedMta     = `MTA {{ .mta | quote }} is not deployed yet`
	MessageErrorDetectingMta = `Error detecting deployed MTA {{ .mta | quote }}`

	MessageErrorPreparing   = `Error preparing deployment of MTA {{ .mta | quote }}`
	MessageNoDescriptor     = `No deployment descriptor`
	MessageUnknownModule    = `Module {{ .module | quote }} is not declared in the deployment descriptor`
	MessageUndeploymentPlan = `Undeploying {{ .apps }} applications and {{ .services }} services of MTA {{ .mta | quote }}`
	MessageErrorUndeploying = `Error preparing undeployment of MTA {{ .mta | quote }}`
	MessageDeploymentPlan   = `Deploying {{ .apps }} applications and {{ .services }} services of MTA {{ .mta | quote }}`
	MessageUnknownBindingTo = `Module {{ .module | quote }} requires unknown resource {{ .resource | quote }}`

	MessageCreatingSubscriptions      = `Creating configuration subscriptions of MTA {{ .mta | quote }}...`
	MessageErrorCreatingSubscriptions = `Error creating configuration subscriptions of MTA {{ .mta | quote }}`
	MessageDeletingSubscriptions      = `Deleting {{ .count }} configuration subscriptions...`
	MessageErrorDeletingSubscriptions = `Error deleting configuration subscriptions`
	MessageSubscriptionAlreadyDeleted = `Configuration subscription {{ .id }} is already deleted`
)
